package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/pcreg/depthcapture/capture"
	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/pointcloud"
)

// SessionsAction lists the sessions in the base directory.
func SessionsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	infos, err := capture.ListSessions(cfg.BaseDir, cfg.SessionPrefix)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		printf(c.App.Writer, "no sessions in %s", cfg.BaseDir)
		return nil
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Directory", "Depth", "Color", "Started", "ID"})
	for _, info := range infos {
		started, id := "", ""
		if info.Manifest != nil {
			started = info.Manifest.Started.Local().Format(time.DateTime)
			id = info.Manifest.ID.String()
		}
		t.AppendRow(table.Row{
			strconv.Itoa(info.Index), info.Dir, info.DepthFiles, info.ColorFiles, started, id,
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// InspectAction prints the size, bounds and depth statistics of a PLY file.
func InspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("inspect takes exactly one PLY file", 1)
	}
	fn := c.Args().First()
	cloud, err := pointcloud.ReadPLYFile(fn)
	if err != nil {
		return err
	}

	meta := cloud.MetaData()
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRow(table.Row{"File", fn})
	t.AppendRow(table.Row{"Points", cloud.Size()})
	t.AppendRow(table.Row{"Color", meta.HasColor})
	if cloud.Size() > 0 {
		t.AppendRow(table.Row{"X range (mm)", fmt.Sprintf("%.1f .. %.1f", meta.MinX, meta.MaxX)})
		t.AppendRow(table.Row{"Y range (mm)", fmt.Sprintf("%.1f .. %.1f", meta.MinY, meta.MaxY)})
		t.AppendRow(table.Row{"Z range (mm)", fmt.Sprintf("%.1f .. %.1f", meta.MinZ, meta.MaxZ)})
		st, err := pointcloud.ComputeDepthStatistics(cloud)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{"Z median (mm)", fmt.Sprintf("%.1f", st.Median)})
		t.AppendRow(table.Row{"Z mean ± sd (mm)", fmt.Sprintf("%.1f ± %.1f", st.Mean, st.StdDev)})
		t.AppendRow(table.Row{"Z p5 .. p95 (mm)", fmt.Sprintf("%.1f .. %.1f", st.P5, st.P95)})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// DriversAction lists the registered camera drivers.
func DriversAction(c *cli.Context) error {
	for _, name := range camera.RegisteredDrivers() {
		printf(c.App.Writer, "%s", name)
	}
	return nil
}
