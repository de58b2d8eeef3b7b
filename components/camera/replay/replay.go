// Package replay implements a camera that plays back frames recorded to a directory.
//
// The directory holds camera.json with the camera system, 16-bit PNG depth frames named
// depth_*.png and optional color frames named color_*.jpg, color_*.png or color_*.ppm. Frames are
// served in lexical file name order, the i-th depth frame paired with the i-th color frame.
package replay

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/logging"
	"github.com/pcreg/depthcapture/rimage"
	"github.com/pcreg/depthcapture/rimage/transform"
)

// DriverName is the name the replay camera is registered under.
const DriverName = "replay"

// CameraSystemFile is the name of the calibration file in a recording.
const CameraSystemFile = "camera.json"

const defaultFPS = 30

// defaultSettleDelay is how long a watched file must go without writes before it is served.
const defaultSettleDelay = 50 * time.Millisecond

func init() {
	camera.RegisterDriver(DriverName, func(ctx context.Context, conf *Config, logger logging.Logger) (camera.Pipeline, error) {
		p, err := NewPipeline(conf, clock.New(), logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Config are the attributes of a replay camera.
type Config struct {
	Source string `json:"source"`
	// Loop restarts from the first frame after the last one.
	Loop bool `json:"loop,omitempty"`
	// Watch serves frames added to the directory while streaming.
	Watch bool `json:"watch,omitempty"`
	FPS   int  `json:"fps,omitempty"`
}

// Validate checks that a source directory is given.
func (conf *Config) Validate(path string) error {
	if conf.Source == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "source")
	}
	if conf.FPS < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("fps must not be negative, got %d", conf.FPS))
	}
	if conf.Loop && conf.Watch {
		return utils.NewConfigValidationError(path, errors.New("loop and watch cannot both be set"))
	}
	return nil
}

// Pipeline replays a recording.
type Pipeline struct {
	conf   Config
	clk    clock.Clock
	logger logging.Logger
	system *transform.DepthColorIntrinsicsExtrinsics
	period time.Duration

	depthProfile camera.StreamProfile
	colorProfile camera.StreamProfile

	mu         sync.Mutex
	depthFiles []string
	colorFiles []string
	added      chan struct{}
	started    bool
	withColor  bool
	index      int
	next       time.Time
	seq        uint64
	finished   bool

	watcher                 *fsnotify.Watcher
	settleDelay             time.Duration
	settling                map[string]func(f func())
	activeBackgroundWorkers sync.WaitGroup
}

// NewPipeline opens a recording.
func NewPipeline(conf *Config, clk clock.Clock, logger logging.Logger) (*Pipeline, error) {
	if err := conf.Validate("replay"); err != nil {
		return nil, err
	}
	system, err := transform.NewDepthColorIntrinsicsExtrinsicsFromJSONFile(filepath.Join(conf.Source, CameraSystemFile))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read camera system of recording %q", conf.Source)
	}
	if err := system.CheckValid(); err != nil {
		return nil, err
	}
	fps := conf.FPS
	if fps == 0 {
		fps = defaultFPS
	}

	p := &Pipeline{
		conf:   *conf,
		clk:    clk,
		logger: logger,
		system: system,
		period: time.Second / time.Duration(fps),
		added:  make(chan struct{}, 1),

		settleDelay: defaultSettleDelay,
		settling:    map[string]func(f func()){},
	}
	entries, err := os.ReadDir(conf.Source)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			p.addFile(entry.Name())
		}
	}
	if len(p.depthFiles) == 0 && !conf.Watch {
		return nil, errors.Errorf("recording %q has no depth frames", conf.Source)
	}

	p.depthProfile = camera.StreamProfile{
		Sensor: camera.SensorDepth,
		Width:  system.DepthCamera.Width,
		Height: system.DepthCamera.Height,
		FPS:    fps,
	}
	p.colorProfile = camera.StreamProfile{
		Sensor: camera.SensorColor,
		Width:  system.ColorCamera.Width,
		Height: system.ColorCamera.Height,
		Format: rimage.PixelFormatRGB,
		FPS:    fps,
	}
	if len(p.colorFiles) > 0 && colorFormat(p.colorFiles[0]) == rimage.PixelFormatMJPG {
		p.colorProfile.Format = rimage.PixelFormatMJPG
	}
	logger.Infow("opened recording", "source", conf.Source, "depth_frames", len(p.depthFiles), "color_frames", len(p.colorFiles))
	return p, nil
}

func colorFormat(name string) rimage.PixelFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return rimage.PixelFormatMJPG
	default:
		return rimage.PixelFormatRGB
	}
}

func isDepthFile(name string) bool {
	return strings.HasPrefix(name, "depth_") && strings.ToLower(filepath.Ext(name)) == ".png"
}

func isColorFile(name string) bool {
	if !strings.HasPrefix(name, "color_") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".ppm":
		return true
	default:
		return false
	}
}

// addFile adds a frame file, keeping both lists sorted. It reports whether the file was a frame.
func (p *Pipeline) addFile(name string) bool {
	insert := func(list []string) []string {
		i := sort.SearchStrings(list, name)
		if i < len(list) && list[i] == name {
			return list
		}
		list = append(list, "")
		copy(list[i+1:], list[i:])
		list[i] = name
		return list
	}
	switch {
	case isDepthFile(name):
		p.depthFiles = insert(p.depthFiles)
	case isColorFile(name):
		p.colorFiles = insert(p.colorFiles)
	default:
		return false
	}
	return true
}

// StreamProfiles returns the profile of each sensor, taken from the recording's camera system. A
// recording without color frames has no color profile.
func (p *Pipeline) StreamProfiles(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error) {
	switch sensor {
	case camera.SensorDepth:
		return camera.StreamProfileList{p.depthProfile}, nil
	case camera.SensorColor:
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.colorFiles) == 0 && !p.conf.Watch {
			return camera.StreamProfileList{}, nil
		}
		return camera.StreamProfileList{p.colorProfile}, nil
	default:
		return nil, errors.Errorf("no %s sensor", sensor)
	}
}

// EnableFrameSync does nothing, recorded frames are paired by index.
func (p *Pipeline) EnableFrameSync() error {
	return nil
}

// Start starts serving frames, and watching the directory if configured to.
func (p *Pipeline) Start(ctx context.Context, cfg *camera.PipelineConfig) error {
	if _, ok := cfg.Enabled(camera.SensorDepth); !ok {
		return errors.New("depth stream must be enabled")
	}
	_, withColor := cfg.Enabled(camera.SensorColor)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipeline already started")
	}
	if p.conf.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Add(p.conf.Source); err != nil {
			return multierr.Combine(err, watcher.Close())
		}
		p.watcher = watcher
		p.activeBackgroundWorkers.Add(1)
		utils.PanicCapturingGo(func() {
			defer p.activeBackgroundWorkers.Done()
			p.watch(watcher)
		})
	}
	p.started = true
	p.withColor = withColor
	p.next = p.clk.Now()
	return nil
}

func (p *Pipeline) watch(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// files moved into the directory are reported as created
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !isDepthFile(name) && !isColorFile(name) {
				continue
			}
			p.mu.Lock()
			settle, ok := p.settling[name]
			if !ok {
				settle = debounce.New(p.settleDelay)
				p.settling[name] = settle
			}
			p.mu.Unlock()
			settle(func() { p.settled(name) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warnw("error watching recording", "error", err)
		}
	}
}

// settled adds a watched file once writes to it have stopped.
func (p *Pipeline) settled(name string) {
	p.mu.Lock()
	delete(p.settling, name)
	p.addFile(name)
	p.mu.Unlock()
	select {
	case p.added <- struct{}{}:
	default:
	}
}

// WaitForFrames returns the next recorded frame set once it is due. Past the last frame, nil is
// returned after the timeout unless looping, or until a new frame appears when watching.
func (p *Pipeline) WaitForFrames(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, errors.New("pipeline not started")
	}
	if p.index >= len(p.depthFiles) && p.conf.Loop {
		p.index = 0
	}
	exhausted := p.index >= len(p.depthFiles)
	if exhausted && !p.finished && !p.conf.Watch {
		p.finished = true
		p.logger.Infow("end of recording", "frames", p.seq)
	}
	wait := p.next.Sub(p.clk.Now())
	p.mu.Unlock()

	if exhausted {
		return nil, p.waitForFile(ctx, timeout)
	}
	if wait > timeout {
		return nil, p.sleep(ctx, timeout)
	}
	if err := p.sleep(ctx, wait); err != nil {
		return nil, err
	}
	return p.readFrame()
}

func (p *Pipeline) readFrame() (*camera.FrameSet, error) {
	p.mu.Lock()
	index := p.index
	depthFile := p.depthFiles[index]
	var colorFile string
	if p.withColor && index < len(p.colorFiles) {
		colorFile = p.colorFiles[index]
	}
	p.index++
	p.seq++
	seq := p.seq
	now := p.clk.Now()
	p.next = p.next.Add(p.period)
	if p.next.Before(now) {
		p.next = now.Add(p.period)
	}
	p.mu.Unlock()

	dm, err := rimage.NewDepthMapFromFile(filepath.Join(p.conf.Source, depthFile))
	if err != nil {
		return p.retryLater(index, depthFile, err)
	}
	if dm.Width() != p.depthProfile.Width || dm.Height() != p.depthProfile.Height {
		return nil, errors.Errorf("depth frame %q is %dx%d, recording is %dx%d",
			depthFile, dm.Width(), dm.Height(), p.depthProfile.Width, p.depthProfile.Height)
	}
	fs := &camera.FrameSet{Sequence: seq, Timestamp: now, Depth: dm}
	if colorFile != "" {
		frame, err := p.readColor(colorFile)
		if err != nil {
			return p.retryLater(index, colorFile, err)
		}
		fs.Color = frame
	}
	return fs, nil
}

// retryLater handles a frame that cannot be read. A watched file may still be written to, so the
// frame is served again on the next call instead of failing.
func (p *Pipeline) retryLater(index int, name string, err error) (*camera.FrameSet, error) {
	if !p.conf.Watch {
		return nil, err
	}
	p.mu.Lock()
	if p.index == index+1 {
		p.index = index
		p.seq--
	}
	p.mu.Unlock()
	p.logger.Debugw("cannot read watched frame yet", "file", name, "error", err)
	return nil, nil
}

func (p *Pipeline) readColor(name string) (*camera.ColorFrame, error) {
	path := filepath.Join(p.conf.Source, name)
	frame := &camera.ColorFrame{
		Format: colorFormat(name),
		Width:  p.colorProfile.Width,
		Height: p.colorProfile.Height,
	}
	if frame.Format == rimage.PixelFormatMJPG {
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		frame.Data = data
		return frame, nil
	}
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	frame.Width, frame.Height = img.Bounds().Dx(), img.Bounds().Dy()
	if frame.Data, err = rimage.EncodeColorFrame(img, rimage.PixelFormatRGB); err != nil {
		return nil, err
	}
	return frame, nil
}

func (p *Pipeline) waitForFile(ctx context.Context, timeout time.Duration) error {
	if !p.conf.Watch || timeout <= 0 {
		return p.sleep(ctx, timeout)
	}
	timer := p.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-p.added:
	}
	return nil
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

// CameraSystem returns the calibration stored with the recording.
func (p *Pipeline) CameraSystem() (*transform.DepthColorIntrinsicsExtrinsics, error) {
	sys := *p.system
	return &sys, nil
}

// Stop stops serving frames and watching the directory.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.started = false
	watcher := p.watcher
	p.watcher = nil
	p.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	p.activeBackgroundWorkers.Wait()
	return err
}
