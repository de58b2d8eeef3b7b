// Package fake implements a fake depth camera which always sees the same scene: a tilted wall with
// a ball in front of it, colored with a yellow to blue gradient.
package fake

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/logging"
	"github.com/pcreg/depthcapture/rimage"
	"github.com/pcreg/depthcapture/rimage/transform"
)

// DriverName is the name the fake camera is registered under.
const DriverName = "fake"

const (
	initialWidth  = 640
	initialHeight = 480
	initialFPS    = 30

	wallDistance  = 1500.0
	wallTilt      = 600.0
	ballDistance  = 1000.0
	ballRadius    = 200.0
	shadowColumns = 4
)

func init() {
	camera.RegisterDriver(DriverName, func(ctx context.Context, conf *Config, logger logging.Logger) (camera.Pipeline, error) {
		p, err := NewPipeline(conf, clock.New(), logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Config are the attributes of the fake camera config.
type Config struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	FPS    int `json:"fps,omitempty"`
	// Color defaults to true.
	Color       *bool  `json:"color,omitempty"`
	ColorFormat string `json:"color_format,omitempty"`
	// ColorError makes every color profile query fail with this message.
	ColorError string `json:"color_error,omitempty"`
}

// Validate checks that the config attributes are valid for a fake camera.
func (conf *Config) Validate(path string) error {
	if conf.Height%2 != 0 {
		return errors.Errorf("%s: odd-number resolutions cannot be rendered, cannot use a height of %d", path, conf.Height)
	}
	if conf.Width%2 != 0 {
		return errors.Errorf("%s: odd-number resolutions cannot be rendered, cannot use a width of %d", path, conf.Width)
	}
	if conf.Width < 0 || conf.Height < 0 || conf.FPS < 0 {
		return errors.Errorf("%s: width, height and fps must not be negative", path)
	}
	if conf.ColorFormat != "" {
		if _, err := rimage.ParsePixelFormat(conf.ColorFormat); err != nil {
			return errors.Wrap(err, path)
		}
	}
	return nil
}

var fakeIntrinsics = transform.PinholeCameraIntrinsics{
	Width:  1024,
	Height: 768,
	Fx:     821.32642889,
	Fy:     821.68607359,
	Ppx:    494.95941428,
	Ppy:    370.70529534,
}

func fakeSystem(width, height int) *transform.DepthColorIntrinsicsExtrinsics {
	widthRatio := float64(width) / float64(fakeIntrinsics.Width)
	heightRatio := float64(height) / float64(fakeIntrinsics.Height)
	intrinsics := transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     fakeIntrinsics.Fx * widthRatio,
		Fy:     fakeIntrinsics.Fy * heightRatio,
		Ppx:    fakeIntrinsics.Ppx * widthRatio,
		Ppy:    fakeIntrinsics.Ppy * heightRatio,
	}
	return &transform.DepthColorIntrinsicsExtrinsics{
		ColorCamera:  intrinsics,
		DepthCamera:  intrinsics,
		ExtrinsicD2C: transform.IdentityExtrinsics(),
	}
}

// Pipeline is a fake depth camera pipeline.
type Pipeline struct {
	clk    clock.Clock
	logger logging.Logger
	system *transform.DepthColorIntrinsicsExtrinsics

	depthProfile camera.StreamProfile
	colorProfile camera.StreamProfile
	hasColor     bool
	colorErr     string
	period       time.Duration

	depth *rimage.DepthMap
	color []byte

	mu        sync.Mutex
	started   bool
	frameSync bool
	withColor bool
	next      time.Time
	seq       uint64
}

// NewPipeline returns a fake pipeline driven by the given clock.
func NewPipeline(conf *Config, clk clock.Clock, logger logging.Logger) (*Pipeline, error) {
	if conf == nil {
		conf = &Config{}
	}
	if err := conf.Validate("fake"); err != nil {
		return nil, err
	}
	width, height, fps := conf.Width, conf.Height, conf.FPS
	if width == 0 {
		width = initialWidth
	}
	if height == 0 {
		height = initialHeight
	}
	if fps == 0 {
		fps = initialFPS
	}
	format := rimage.PixelFormatRGB
	if conf.ColorFormat != "" {
		format, _ = rimage.ParsePixelFormat(conf.ColorFormat)
	}

	p := &Pipeline{
		clk:          clk,
		logger:       logger,
		system:       fakeSystem(width, height),
		depthProfile: camera.StreamProfile{Sensor: camera.SensorDepth, Width: width, Height: height, FPS: fps},
		colorProfile: camera.StreamProfile{Sensor: camera.SensorColor, Width: width, Height: height, Format: format, FPS: fps},
		hasColor:     conf.Color == nil || *conf.Color,
		colorErr:     conf.ColorError,
		period:       time.Second / time.Duration(fps),
	}
	p.depth = p.renderDepth()
	if p.hasColor {
		data, err := rimage.EncodeColorFrame(gradient(width, height), format)
		if err != nil {
			return nil, err
		}
		p.color = data
	}
	return p, nil
}

// renderDepth casts a ray through every pixel and keeps the nearer of the wall and the ball.
func (p *Pipeline) renderDepth() *rimage.DepthMap {
	intrinsics := p.system.DepthCamera
	dm := rimage.NewEmptyDepthMap(intrinsics.Width, intrinsics.Height)
	for y := 0; y < intrinsics.Height; y++ {
		wall := wallDistance + wallTilt*float64(y)/float64(intrinsics.Height)
		for x := shadowColumns; x < intrinsics.Width; x++ {
			z := wall
			xn := (float64(x) - intrinsics.Ppx) / intrinsics.Fx
			yn := (float64(y) - intrinsics.Ppy) / intrinsics.Fy
			// |t*(xn, yn, 1) - (0, 0, ballDistance)|^2 = ballRadius^2
			a := xn*xn + yn*yn + 1
			b := -2 * ballDistance
			c := ballDistance*ballDistance - ballRadius*ballRadius
			if disc := b*b - 4*a*c; disc >= 0 {
				if t := (-b - math.Sqrt(disc)) / (2 * a); t > 0 && t < z {
					z = t
				}
			}
			dm.Set(x, y, rimage.Depth(math.Round(z)))
		}
	}
	return dm
}

// gradient is a yellow to blue gradient.
func gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	totalDist := math.Hypot(float64(width), float64(height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dist := math.Hypot(float64(x), float64(y)) / totalDist
			img.SetNRGBA(x, y, color.NRGBA{uint8(255 - (255 * dist)), uint8(255 - (255 * dist)), uint8(0 + (255 * dist)), 255})
		}
	}
	return img
}

// StreamProfiles returns the single profile of each sensor. Without color an empty list is
// returned for the color sensor.
func (p *Pipeline) StreamProfiles(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error) {
	switch sensor {
	case camera.SensorDepth:
		return camera.StreamProfileList{p.depthProfile}, nil
	case camera.SensorColor:
		if p.colorErr != "" {
			return nil, errors.New(p.colorErr)
		}
		if !p.hasColor {
			return camera.StreamProfileList{}, nil
		}
		return camera.StreamProfileList{p.colorProfile}, nil
	default:
		return nil, errors.Errorf("no %s sensor", sensor)
	}
}

// EnableFrameSync records that frame sync was asked for. Fake frames are always in sync.
func (p *Pipeline) EnableFrameSync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameSync = true
	return nil
}

// Start starts streaming. The depth stream must be enabled.
func (p *Pipeline) Start(ctx context.Context, cfg *camera.PipelineConfig) error {
	depth, ok := cfg.Enabled(camera.SensorDepth)
	if !ok {
		return errors.New("depth stream must be enabled")
	}
	if depth != p.depthProfile {
		return errors.Errorf("unsupported depth profile %s", depth)
	}
	colorProfile, withColor := cfg.Enabled(camera.SensorColor)
	if withColor && (!p.hasColor || colorProfile != p.colorProfile) {
		return errors.Errorf("unsupported color profile %s", colorProfile)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true
	p.withColor = withColor
	p.next = p.clk.Now()
	p.logger.Debugw("fake pipeline started", "depth", depth.String(), "color", withColor, "frame_sync", p.frameSync)
	return nil
}

// WaitForFrames returns the next frame set once it is due. If it is not due within timeout, nil is
// returned.
func (p *Pipeline) WaitForFrames(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, errors.New("pipeline not started")
	}
	now := p.clk.Now()
	due := p.next
	p.mu.Unlock()

	wait := due.Sub(now)
	if wait > timeout {
		if timeout > 0 {
			if err := p.sleep(ctx, timeout); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	if err := p.sleep(ctx, wait); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, errors.New("pipeline stopped")
	}
	p.seq++
	now = p.clk.Now()
	p.next = p.next.Add(p.period)
	if p.next.Before(now) {
		p.next = now.Add(p.period)
	}

	fs := &camera.FrameSet{Sequence: p.seq, Timestamp: now, Depth: p.depth.Clone()}
	if p.withColor {
		data := make([]byte, len(p.color))
		copy(data, p.color)
		fs.Color = &camera.ColorFrame{
			Format: p.colorProfile.Format,
			Width:  p.colorProfile.Width,
			Height: p.colorProfile.Height,
			Data:   data,
		}
	}
	return fs, nil
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := p.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CameraSystem returns the calibration of the fake camera.
func (p *Pipeline) CameraSystem() (*transform.DepthColorIntrinsicsExtrinsics, error) {
	sys := *p.system
	return &sys, nil
}

// Stop stops streaming.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}
