// Package config defines the configuration of a capture run and how it is read from disk.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/pcreg/depthcapture/pointcloud"
)

const (
	// DefaultBaseDir is where session directories are created, relative to the working directory.
	DefaultBaseDir = "../data"
	// DefaultSessionPrefix names session directories test1, test2, ...
	DefaultSessionPrefix = "test"
	// DefaultFrameTimeout is how long each loop iteration waits for a frame set.
	DefaultFrameTimeout = 100 * time.Millisecond
	// DefaultDriver is the camera driver used when none is configured.
	DefaultDriver = "fake"
	// DefaultPreviewWidth is the width the color preview is scaled to.
	DefaultPreviewWidth = 640
	// DefaultPreviewInterval throttles how often the preview is refreshed.
	DefaultPreviewInterval = 200 * time.Millisecond
)

// DriverConfig selects a camera driver and carries its driver specific attributes.
type DriverConfig struct {
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// OutputConfig is how saved point clouds are written.
type OutputConfig struct {
	Format   string `json:"format,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// PreviewConfig is where and how the color preview is shown.
type PreviewConfig struct {
	// Path defaults to preview.jpg inside the session directory.
	Path     string        `json:"path,omitempty"`
	Width    int           `json:"width,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Disabled bool          `json:"disabled,omitempty"`
}

// Config is the full configuration of a capture run.
type Config struct {
	BaseDir       string        `json:"base_dir,omitempty"`
	SessionPrefix string        `json:"session_prefix,omitempty"`
	FrameTimeout  time.Duration `json:"frame_timeout,omitempty"`
	Driver        DriverConfig  `json:"driver"`
	Output        OutputConfig  `json:"output"`
	Preview       PreviewConfig `json:"preview"`
	Debug         bool          `json:"debug,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in every unset field.
func (c *Config) ApplyDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = DefaultBaseDir
	}
	if c.SessionPrefix == "" {
		c.SessionPrefix = DefaultSessionPrefix
	}
	if c.FrameTimeout == 0 {
		c.FrameTimeout = DefaultFrameTimeout
	}
	if c.Driver.Name == "" {
		c.Driver.Name = DefaultDriver
	}
	if c.Driver.Attributes == nil {
		c.Driver.Attributes = map[string]interface{}{}
	}
	if c.Output.Format == "" {
		c.Output.Format = string(pointcloud.FormatPLY)
	}
	if c.Output.Encoding == "" {
		c.Output.Encoding = pointcloud.EncodingBinary.String()
	}
	if c.Preview.Width == 0 {
		c.Preview.Width = DefaultPreviewWidth
	}
	if c.Preview.Interval == 0 {
		c.Preview.Interval = DefaultPreviewInterval
	}
}

// Validate returns an error naming the first invalid field. path is prepended to field names.
func (c *Config) Validate(path string) error {
	if c.BaseDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "base_dir")
	}
	if c.SessionPrefix == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "session_prefix")
	}
	if strings.ContainsRune(c.SessionPrefix, filepath.Separator) || strings.ContainsAny(c.SessionPrefix, "/0123456789") {
		return utils.NewConfigValidationError(path,
			errors.Errorf("session_prefix %q must not contain digits or path separators", c.SessionPrefix))
	}
	if c.FrameTimeout <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("frame_timeout must be positive, got %s", c.FrameTimeout))
	}
	if c.Driver.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "driver.name")
	}
	if _, _, err := c.OutputFormat(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if c.Preview.Width < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("preview.width must not be negative, got %d", c.Preview.Width))
	}
	return nil
}

// OutputFormat parses the output section.
func (c *Config) OutputFormat() (pointcloud.Format, pointcloud.Encoding, error) {
	format, err := pointcloud.ParseFormat(c.Output.Format)
	if err != nil {
		return "", 0, err
	}
	enc, err := pointcloud.ParseEncoding(c.Output.Encoding)
	if err != nil {
		return "", 0, err
	}
	return format, enc, nil
}
