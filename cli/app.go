// Package cli contains the depthcapture command line application.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagBaseDir     = "base-dir"
	flagPrefix      = "prefix"
	flagDriver      = "driver"
	flagSource      = "source"
	flagFormat      = "format"
	flagEncoding    = "encoding"
	flagTimeout     = "timeout"
	flagPreviewPath = "preview-path"
	flagNoPreview   = "no-preview"
)

var sessionFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  flagBaseDir,
		Usage: "directory session directories are created in",
	},
	&cli.StringFlag{
		Name:  flagPrefix,
		Usage: "name prefix of session directories",
	},
}

var captureFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  flagDriver,
		Usage: "camera driver to open",
	},
	&cli.StringFlag{
		Name:  flagSource,
		Usage: "recording `DIR` to replay, implies --driver replay",
	},
	&cli.StringFlag{
		Name:  flagFormat,
		Usage: "point cloud file format (ply, pcd or las)",
	},
	&cli.StringFlag{
		Name:  flagEncoding,
		Usage: "point cloud encoding (binary or ascii)",
	},
	&cli.DurationFlag{
		Name:  flagTimeout,
		Usage: "how long to wait for each frame set",
	},
	&cli.StringFlag{
		Name:  flagPreviewPath,
		Usage: "write the preview to `FILE` instead of the session directory",
	},
	&cli.BoolFlag{
		Name:  flagNoPreview,
		Usage: "do not write previews",
	},
}, sessionFlags...)

// NewApp returns the application writing to the given outputs.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "depthcapture",
		Usage:           "capture point clouds from a depth camera",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: CaptureAction,
		Commands: []*cli.Command{
			{
				Name:      "capture",
				Usage:     "preview frames and save point clouds: s saves, esc exits",
				UsageText: "depthcapture capture [options]",
				Flags:     captureFlags,
				Action:    CaptureAction,
			},
			{
				Name:   "sessions",
				Usage:  "list capture sessions",
				Flags:  sessionFlags,
				Action: SessionsAction,
			},
			{
				Name:      "inspect",
				Usage:     "summarize a saved PLY point cloud",
				ArgsUsage: "<file.ply>",
				Action:    InspectAction,
			},
			{
				Name:   "drivers",
				Usage:  "list camera drivers",
				Action: DriversAction,
			},
		},
	}
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
