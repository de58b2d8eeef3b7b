package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/term"

	"github.com/pcreg/depthcapture/capture"
	"github.com/pcreg/depthcapture/components/camera"
	// register camera drivers.
	_ "github.com/pcreg/depthcapture/components/register"
	"github.com/pcreg/depthcapture/config"
	"github.com/pcreg/depthcapture/display"
	"github.com/pcreg/depthcapture/logging"
	"github.com/pcreg/depthcapture/pointcloud"
)

const (
	previewFile    = "preview.jpg"
	sessionLogFile = "capture.log"
)

// loadConfig reads the config file, if given, and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if fn := c.String(flagConfig); fn != "" {
		var err error
		if cfg, err = config.Read(fn); err != nil {
			return nil, err
		}
	}
	if c.IsSet(flagDebug) {
		cfg.Debug = c.Bool(flagDebug)
	}
	if c.IsSet(flagBaseDir) {
		cfg.BaseDir = c.String(flagBaseDir)
	}
	if c.IsSet(flagPrefix) {
		cfg.SessionPrefix = c.String(flagPrefix)
	}
	if c.IsSet(flagSource) {
		cfg.Driver.Name = "replay"
		cfg.Driver.Attributes = map[string]interface{}{"source": c.String(flagSource)}
	}
	if c.IsSet(flagDriver) {
		cfg.Driver.Name = c.String(flagDriver)
	}
	if c.IsSet(flagFormat) {
		cfg.Output.Format = c.String(flagFormat)
	}
	if c.IsSet(flagEncoding) {
		cfg.Output.Encoding = c.String(flagEncoding)
	}
	if c.IsSet(flagTimeout) {
		cfg.FrameTimeout = c.Duration(flagTimeout)
	}
	if c.IsSet(flagPreviewPath) {
		cfg.Preview.Path = c.String(flagPreviewPath)
	}
	if c.IsSet(flagNoPreview) {
		cfg.Preview.Disabled = c.Bool(flagNoPreview)
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CaptureAction runs a capture session until escape is pressed or the process is interrupted.
func CaptureAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	format, encoding, err := cfg.OutputFormat()
	if err != nil {
		return err
	}

	// raw mode stops the terminal from translating newlines
	var logger logging.Logger
	if term.IsTerminal(int(os.Stdin.Fd())) {
		logger = logging.NewRawTerminalLogger("depthcapture", cfg.Debug)
	} else if cfg.Debug {
		logger = logging.NewDebugLogger("depthcapture")
	} else {
		logger = logging.NewLogger("depthcapture")
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCapture(ctx, cfg, format, encoding, os.Stdin, logger)
}

func runCapture(
	ctx context.Context,
	cfg *config.Config,
	format pointcloud.Format,
	encoding pointcloud.Encoding,
	input io.Reader,
	logger logging.Logger,
) (err error) {
	pipeline, err := camera.NewPipeline(ctx, cfg.Driver.Name, cfg.Driver.Attributes, logger)
	if err != nil {
		return errors.Wrap(err, "cannot open camera")
	}

	session, err := capture.NewSession(cfg.BaseDir, capture.SessionOptions{
		Prefix:   cfg.SessionPrefix,
		Format:   format,
		Encoding: encoding,
		Driver:   cfg.Driver.Name,
	})
	if err != nil {
		return multierr.Combine(err, pipeline.Stop(ctx))
	}
	logger, logFile := logging.TeeToFile(logger, filepath.Join(session.Dir, sessionLogFile), 0)
	defer utils.UncheckedErrorFunc(logFile.Close)
	logger.Infow("created session", "dir", session.Dir, "id", session.ID().String())

	previewPath := ""
	if !cfg.Preview.Disabled {
		previewPath = cfg.Preview.Path
		if previewPath == "" {
			previewPath = filepath.Join(session.Dir, previewFile)
		}
	}
	disp, err := display.NewTerminal(display.TerminalConfig{
		Input:           input,
		PreviewPath:     previewPath,
		PreviewWidth:    cfg.Preview.Width,
		PreviewInterval: cfg.Preview.Interval,
	}, logger.Sublogger("display"))
	if err != nil {
		return multierr.Combine(err, pipeline.Stop(ctx))
	}

	loop := capture.NewLoop(pipeline, disp, session, capture.LoopConfig{
		FrameTimeout: cfg.FrameTimeout,
		DepthPreview: true,
		Overlay:      true,
	}, logger)
	logger.Info("press s to save point clouds, esc to exit")
	return loop.Run(ctx)
}
