package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/display"
	"github.com/pcreg/depthcapture/logging"
	"github.com/pcreg/depthcapture/pointcloud"
	"github.com/pcreg/depthcapture/rimage"
)

// Window names.
const (
	ColorWindow = "Color Viewer"
	DepthWindow = "Depth Viewer"
)

const (
	defaultFrameTimeout = 100 * time.Millisecond
	defaultKeyTimeout   = time.Millisecond
)

// ErrNoDepthStream is returned when the camera offers no depth stream.
var ErrNoDepthStream = errors.New("no depth stream available")

// LoopConfig tunes the capture loop.
type LoopConfig struct {
	// FrameTimeout bounds each wait for a frame set.
	FrameTimeout time.Duration
	// KeyTimeout bounds each wait for a keystroke.
	KeyTimeout time.Duration
	// DepthPreview shows a colorized depth preview when there is no color stream.
	DepthPreview bool
	// Overlay draws the number of saved clouds onto previews.
	Overlay bool
}

// Loop previews frames and saves point clouds when the operator presses s, until escape is
// pressed or its context is cancelled.
type Loop struct {
	pipeline camera.Pipeline
	display  display.Display
	session  *Session
	cfg      LoopConfig
	logger   logging.Logger

	setUp         bool
	hasColor      bool
	align         *camera.AlignFilter
	depthFilter   *camera.PointCloudFilter
	colorFilter   *camera.PointCloudFilter
	warnedFormats map[rimage.PixelFormat]bool

	closeOnce sync.Once
	closeErr  error
}

// NewLoop returns a loop over an opened pipeline. The loop owns the pipeline and the display and
// releases both when it returns.
func NewLoop(pipeline camera.Pipeline, disp display.Display, session *Session, cfg LoopConfig, logger logging.Logger) *Loop {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = defaultFrameTimeout
	}
	if cfg.KeyTimeout <= 0 {
		cfg.KeyTimeout = defaultKeyTimeout
	}
	return &Loop{
		pipeline:      pipeline,
		display:       disp,
		session:       session,
		cfg:           cfg,
		logger:        logger,
		warnedFormats: map[rimage.PixelFormat]bool{},
	}
}

// HasColor reports whether the loop captures color. It is only meaningful after Setup.
func (l *Loop) HasColor() bool {
	return l.hasColor
}

// Setup enables the depth stream and, if the device has one, the color stream, then starts the
// pipeline. A color stream that cannot be set up is not an error: the loop runs depth only.
func (l *Loop) Setup(ctx context.Context) error {
	if l.setUp {
		return errors.New("capture loop already set up")
	}
	depthProfiles, err := l.pipeline.StreamProfiles(ctx, camera.SensorDepth)
	if err != nil {
		l.logger.Errorw("No depth stream available.", "error", err)
		return ErrNoDepthStream
	}
	depthProfile, err := depthProfiles.DefaultVideoStreamProfile()
	if err != nil {
		l.logger.Error("No depth stream available.")
		return ErrNoDepthStream
	}
	pipelineConfig := &camera.PipelineConfig{}
	pipelineConfig.EnableStream(depthProfile)

	colorProfile, hasColor := l.colorProfile(ctx)
	if hasColor {
		pipelineConfig.EnableStream(colorProfile)
	}

	if err := l.pipeline.EnableFrameSync(); err != nil {
		l.logger.Warnw("cannot enable frame sync, frames may be paired loosely", "error", err)
	} else {
		pipelineConfig.FrameSync = true
	}
	if err := l.pipeline.Start(ctx, pipelineConfig); err != nil {
		return errors.Wrap(err, "cannot start pipeline")
	}
	system, err := l.pipeline.CameraSystem()
	if err != nil {
		return errors.Wrap(err, "cannot get camera calibration")
	}

	target := camera.SensorDepth
	if hasColor {
		target = camera.SensorColor
	}
	l.align = camera.NewAlignFilter(target, system)
	l.depthFilter = camera.NewPointCloudFilter(camera.PointFormatXYZ, system)
	if hasColor {
		l.colorFilter = camera.NewPointCloudFilter(camera.PointFormatRGBXYZ, system)
	}
	l.hasColor = hasColor
	l.session.SetHasColor(hasColor)
	l.setUp = true

	streams := []string{depthProfile.String()}
	if hasColor {
		streams = append(streams, colorProfile.String())
	}
	l.logger.Infow("pipeline started", "streams", streams, "align_to", target.String(), "session", l.session.Dir)
	return nil
}

// colorProfile picks the default color profile. Any failure, including a panicking driver, means
// there is no color.
func (l *Loop) colorProfile(ctx context.Context) (profile camera.StreamProfile, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warnw("Color sensor unavailable", "error", r)
			profile, ok = camera.StreamProfile{}, false
		}
	}()
	profiles, err := l.pipeline.StreamProfiles(ctx, camera.SensorColor)
	if err != nil {
		l.logger.Warnw("Color sensor unavailable", "error", err)
		return camera.StreamProfile{}, false
	}
	profile, err = profiles.DefaultVideoStreamProfile()
	if err != nil {
		l.logger.Warnw("Color sensor unavailable", "error", err)
		return camera.StreamProfile{}, false
	}
	return profile, true
}

// Run sets the loop up if needed and runs it. Escape and context cancellation end the loop
// without error. The display and pipeline are released before Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Combine(err, l.Close(context.WithoutCancel(ctx)))
	}()
	if !l.setUp {
		if err := l.Setup(ctx); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			l.logger.Info("capture cancelled")
			return nil
		}
		frames, err := l.pipeline.WaitForFrames(ctx, l.cfg.FrameTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return errors.Wrap(err, "cannot wait for frames")
		}
		if frames == nil {
			continue
		}
		if l.hasColor && !frames.HasColor() {
			continue
		}

		l.preview(frames)

		key, err := l.display.PollKey(ctx, l.cfg.KeyTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return errors.Wrap(err, "cannot read keys")
		}
		switch key {
		case display.KeySave:
			l.save(frames)
		case display.KeyEscape:
			l.logger.Info("ESC pressed. Exiting...")
			return nil
		default:
		}
	}
}

func (l *Loop) preview(frames *camera.FrameSet) {
	if !l.hasColor {
		if l.cfg.DepthPreview {
			l.show(DepthWindow, frames.Depth.ToPrettyPicture(0, rimage.MaxDepth))
		}
		return
	}
	img, err := frames.Color.Decode()
	if err != nil {
		var unsupported *rimage.UnsupportedPixelFormatError
		if !errors.As(err, &unsupported) {
			l.logger.Warnw("cannot decode color frame", "error", err)
			return
		}
		if !l.warnedFormats[frames.Color.Format] {
			l.warnedFormats[frames.Color.Format] = true
			l.logger.Warnw("Unsupported format, color preview disabled for it", "format", frames.Color.Format.String())
		}
		return
	}
	l.show(ColorWindow, img)
}

func (l *Loop) show(window string, img *image.NRGBA) {
	if l.cfg.Overlay {
		label := fmt.Sprintf("depth %d  color %d", l.session.NextIndex(KindDepth)-1, l.session.NextIndex(KindColor)-1)
		rimage.DrawString(img, label, image.Pt(4, 4), color.White)
	}
	if err := l.display.Show(window, img); err != nil {
		l.logger.Warnw("cannot show preview", "window", window, "error", err)
	}
}

// save aligns the frame set and saves a depth cloud and, with color, a colored cloud. A stream
// whose cloud cannot be built or written is skipped for this keypress.
func (l *Loop) save(frames *camera.FrameSet) {
	aligned, err := l.align.Process(frames)
	if err != nil {
		l.logger.Errorw("cannot align frames, nothing saved", "sequence", frames.Sequence, "error", err)
		return
	}

	depthCloud, err := l.depthFilter.Process(aligned)
	l.saveCloud(KindDepth, depthCloud, err, frames.Sequence)
	if l.hasColor {
		colorCloud, err := l.colorFilter.Process(aligned)
		l.saveCloud(KindColor, colorCloud, err, frames.Sequence)
	}

	if err := l.session.WriteManifest(); err != nil {
		l.logger.Warnw("cannot write session manifest", "error", err)
	}
}

func (l *Loop) saveCloud(kind StreamKind, cloud pointcloud.PointCloud, buildErr error, sequence uint64) {
	if buildErr != nil {
		l.logger.Warnw("cannot build point cloud, not saved", "kind", kind, "error", buildErr)
		return
	}
	if cloud == nil || cloud.Size() == 0 {
		l.logger.Warnw("empty point cloud, not saved", "kind", kind, "sequence", sequence)
		return
	}
	fn, err := l.session.SaveCloud(kind, cloud, sequence)
	if err != nil {
		l.logger.Errorw("cannot save point cloud", "kind", kind, "error", err)
		return
	}
	l.logger.Infof("Saved %s point cloud: %s", kind, fn)
	if st, err := pointcloud.ComputeDepthStatistics(cloud); err == nil {
		l.logger.Debugw("saved point cloud statistics", "kind", kind, "points", st.Count,
			"median_depth_mm", st.Median, "p5_depth_mm", st.P5, "p95_depth_mm", st.P95)
	}
}

// Close closes the display, then stops the pipeline. Only the first call does anything.
func (l *Loop) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.closeErr = multierr.Combine(
			errors.Wrap(l.display.Close(), "cannot close display"),
			errors.Wrap(l.pipeline.Stop(ctx), "cannot stop pipeline"),
		)
	})
	return l.closeErr
}
