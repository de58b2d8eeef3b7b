package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/display"
	"github.com/pcreg/depthcapture/logging"
	"github.com/pcreg/depthcapture/pointcloud"
	"github.com/pcreg/depthcapture/rimage"
	"github.com/pcreg/depthcapture/rimage/transform"
	"github.com/pcreg/depthcapture/testutils/inject"
)

const (
	frameWidth  = 4
	frameHeight = 3
)

var (
	depthProfile = camera.StreamProfile{Sensor: camera.SensorDepth, Width: frameWidth, Height: frameHeight, FPS: 30}
	colorProfile = camera.StreamProfile{
		Sensor: camera.SensorColor, Width: frameWidth, Height: frameHeight, Format: rimage.PixelFormatRGB, FPS: 30,
	}
)

func testSystem() *transform.DepthColorIntrinsicsExtrinsics {
	intrinsics := transform.PinholeCameraIntrinsics{Width: frameWidth, Height: frameHeight, Fx: 100, Fy: 100, Ppx: 2, Ppy: 1}
	return &transform.DepthColorIntrinsicsExtrinsics{
		ColorCamera:  intrinsics,
		DepthCamera:  intrinsics,
		ExtrinsicD2C: transform.IdentityExtrinsics(),
	}
}

func testFrames(seq uint64, format rimage.PixelFormat, withColor bool) *camera.FrameSet {
	dm := rimage.NewEmptyDepthMap(frameWidth, frameHeight)
	dm.Set(0, 0, 800)
	dm.Set(2, 1, 900)
	fs := &camera.FrameSet{Sequence: seq, Timestamp: time.Now(), Depth: dm}
	if withColor {
		fs.Color = &camera.ColorFrame{
			Format: format,
			Width:  frameWidth,
			Height: frameHeight,
			Data:   make([]byte, frameWidth*frameHeight*3),
		}
	}
	return fs
}

// fakeRig records what the loop does with an injected pipeline and display.
type fakeRig struct {
	pipeline *inject.Pipeline
	display  *inject.Display

	keys     []display.Key
	polls    int
	shown    []string
	started  *camera.PipelineConfig
	closes   []string
	frameSeq uint64
}

func newFakeRig(keys ...display.Key) *fakeRig {
	rig := &fakeRig{keys: keys}
	rig.pipeline = &inject.Pipeline{
		StreamProfilesFunc: func(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error) {
			if sensor == camera.SensorDepth {
				return camera.StreamProfileList{depthProfile}, nil
			}
			return camera.StreamProfileList{colorProfile}, nil
		},
		StartFunc: func(ctx context.Context, cfg *camera.PipelineConfig) error {
			rig.started = cfg
			return nil
		},
		WaitForFramesFunc: func(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
			rig.frameSeq++
			_, withColor := rig.started.Enabled(camera.SensorColor)
			return testFrames(rig.frameSeq, rimage.PixelFormatRGB, withColor), nil
		},
		CameraSystemFunc: func() (*transform.DepthColorIntrinsicsExtrinsics, error) {
			return testSystem(), nil
		},
		StopFunc: func(ctx context.Context) error {
			rig.closes = append(rig.closes, "pipeline")
			return nil
		},
	}
	rig.display = &inject.Display{
		ShowFunc: func(window string, img image.Image) error {
			rig.shown = append(rig.shown, window)
			return nil
		},
		PollKeyFunc: func(ctx context.Context, timeout time.Duration) (display.Key, error) {
			rig.polls++
			if len(rig.keys) == 0 {
				return display.KeyEscape, nil
			}
			k := rig.keys[0]
			rig.keys = rig.keys[1:]
			return k, nil
		},
		CloseFunc: func() error {
			rig.closes = append(rig.closes, "display")
			return nil
		},
	}
	return rig
}

func (rig *fakeRig) run(t *testing.T, ctx context.Context, cfg LoopConfig) (*Session, error) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	return rig.runWithLogger(t, ctx, cfg, logger)
}

func (rig *fakeRig) runWithLogger(t *testing.T, ctx context.Context, cfg LoopConfig, logger logging.Logger) (*Session, error) {
	t.Helper()
	session, err := NewSession(t.TempDir(), SessionOptions{Prefix: "test", Driver: "inject"})
	test.That(t, err, test.ShouldBeNil)
	loop := NewLoop(rig.pipeline, rig.display, session, cfg, logger)
	return session, loop.Run(ctx)
}

func savedFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*_*.ply"))
	test.That(t, err, test.ShouldBeNil)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names
}

func TestLoopSavesOnKeypress(t *testing.T) {
	rig := newFakeRig(display.KeySave, display.KeyNone, display.Key('x'), display.KeySave, display.KeyEscape)
	session, err := rig.run(t, context.Background(), LoopConfig{})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, savedFiles(t, session.Dir), test.ShouldResemble,
		[]string{"color_1.ply", "color_2.ply", "depth_1.ply", "depth_2.ply"})
	test.That(t, session.NextIndex(KindDepth), test.ShouldEqual, 3)
	test.That(t, session.NextIndex(KindColor), test.ShouldEqual, 3)
	test.That(t, rig.polls, test.ShouldEqual, 5)
	test.That(t, rig.closes, test.ShouldResemble, []string{"display", "pipeline"})
	test.That(t, rig.started.FrameSync, test.ShouldBeTrue)
	test.That(t, rig.started.Streams, test.ShouldResemble, []camera.StreamProfile{depthProfile, colorProfile})
	test.That(t, rig.shown, test.ShouldHaveLength, 5)
	test.That(t, rig.shown[0], test.ShouldEqual, ColorWindow)

	colorCloud, err := pointcloud.ReadPLYFile(filepath.Join(session.Dir, "color_1.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, colorCloud.Size(), test.ShouldEqual, 2)
	test.That(t, colorCloud.MetaData().HasColor, test.ShouldBeTrue)
	depthCloud, err := pointcloud.ReadPLYFile(filepath.Join(session.Dir, "depth_2.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depthCloud.MetaData().HasColor, test.ShouldBeFalse)

	m, err := ReadManifest(session.Dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.HasColor, test.ShouldBeTrue)
	test.That(t, m.Files, test.ShouldHaveLength, 4)
	test.That(t, m.Files[0].Kind, test.ShouldEqual, KindDepth)
	test.That(t, m.Files[1].Kind, test.ShouldEqual, KindColor)
	test.That(t, m.Files[0].Sequence, test.ShouldEqual, uint64(1))
	test.That(t, m.Files[2].Sequence, test.ShouldEqual, uint64(4))
}

func TestLoopEscapeLogsAndStops(t *testing.T) {
	rig := newFakeRig(display.KeyEscape, display.KeySave)
	logger, logs := logging.NewObservedTestLogger(t)
	session, err := rig.runWithLogger(t, context.Background(), LoopConfig{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, savedFiles(t, session.Dir), test.ShouldBeEmpty)
	test.That(t, rig.polls, test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("ESC pressed. Exiting...").Len(), test.ShouldEqual, 1)
	test.That(t, rig.closes, test.ShouldResemble, []string{"display", "pipeline"})
}

func TestLoopColorUnavailable(t *testing.T) {
	for _, tc := range []struct {
		name     string
		profiles func() (camera.StreamProfileList, error)
	}{
		{"error", func() (camera.StreamProfileList, error) { return nil, errors.New("no color sensor") }},
		{"empty", func() (camera.StreamProfileList, error) { return camera.StreamProfileList{}, nil }},
		{"nil", func() (camera.StreamProfileList, error) { return nil, nil }},
		{"panic", func() (camera.StreamProfileList, error) { panic("driver crashed") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rig := newFakeRig(display.KeySave, display.KeySave, display.KeyEscape)
			rig.pipeline.StreamProfilesFunc = func(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error) {
				if sensor == camera.SensorDepth {
					return camera.StreamProfileList{depthProfile}, nil
				}
				return tc.profiles()
			}
			logger, logs := logging.NewObservedTestLogger(t)
			session, err := rig.runWithLogger(t, context.Background(), LoopConfig{DepthPreview: true}, logger)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, savedFiles(t, session.Dir), test.ShouldResemble, []string{"depth_1.ply", "depth_2.ply"})
			test.That(t, logs.FilterMessage("Color sensor unavailable").Len(), test.ShouldEqual, 1)
			test.That(t, rig.started.Streams, test.ShouldResemble, []camera.StreamProfile{depthProfile})
			test.That(t, rig.shown[0], test.ShouldEqual, DepthWindow)

			m, err := ReadManifest(session.Dir)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, m.HasColor, test.ShouldBeFalse)
		})
	}
}

func TestLoopNoDepthStream(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"error", errors.New("no depth sensor")},
		{"empty", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rig := newFakeRig()
			rig.pipeline.StreamProfilesFunc = func(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error) {
				return nil, tc.err
			}
			logger, logs := logging.NewObservedTestLogger(t)
			_, err := rig.runWithLogger(t, context.Background(), LoopConfig{}, logger)
			test.That(t, errors.Is(err, ErrNoDepthStream), test.ShouldBeTrue)
			test.That(t, logs.FilterMessage("No depth stream available.").Len(), test.ShouldEqual, 1)
			test.That(t, rig.started, test.ShouldBeNil)
			test.That(t, rig.closes, test.ShouldResemble, []string{"display", "pipeline"})
		})
	}
}

func TestLoopSkipsIncompleteFrames(t *testing.T) {
	rig := newFakeRig(display.KeySave, display.KeyEscape)
	calls := 0
	rig.pipeline.WaitForFramesFunc = func(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
		calls++
		test.That(t, timeout, test.ShouldEqual, defaultFrameTimeout)
		switch calls {
		case 1:
			// timed out
			return nil, nil
		case 2:
			return testFrames(2, rimage.PixelFormatRGB, false), nil
		default:
			return testFrames(uint64(calls), rimage.PixelFormatRGB, true), nil
		}
	}
	session, err := rig.run(t, context.Background(), LoopConfig{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calls, test.ShouldEqual, 4)
	test.That(t, rig.polls, test.ShouldEqual, 2)
	test.That(t, savedFiles(t, session.Dir), test.ShouldResemble, []string{"color_1.ply", "depth_1.ply"})
}

func TestLoopUnsupportedColorFormat(t *testing.T) {
	rig := newFakeRig(display.KeyNone, display.KeySave, display.KeyNone, display.KeyEscape)
	rig.pipeline.WaitForFramesFunc = func(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
		rig.frameSeq++
		return testFrames(rig.frameSeq, rimage.PixelFormatUnknown, true), nil
	}
	logger, logs := logging.NewObservedTestLogger(t)
	session, err := rig.runWithLogger(t, context.Background(), LoopConfig{}, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, logs.FilterMessage("Unsupported format, color preview disabled for it").Len(), test.ShouldEqual, 1)
	test.That(t, rig.shown, test.ShouldBeEmpty)
	// the colored cloud cannot be built, the depth cloud is still saved
	test.That(t, savedFiles(t, session.Dir), test.ShouldResemble, []string{"depth_1.ply"})
	test.That(t, session.NextIndex(KindColor), test.ShouldEqual, 1)
}

func TestLoopEmptyDepthNotSaved(t *testing.T) {
	rig := newFakeRig(display.KeySave, display.KeyEscape)
	rig.pipeline.WaitForFramesFunc = func(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
		fs := testFrames(1, rimage.PixelFormatRGB, true)
		fs.Depth = rimage.NewEmptyDepthMap(frameWidth, frameHeight)
		return fs, nil
	}
	session, err := rig.run(t, context.Background(), LoopConfig{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, savedFiles(t, session.Dir), test.ShouldBeEmpty)
	test.That(t, session.NextIndex(KindDepth), test.ShouldEqual, 1)
}

func TestLoopPipelineError(t *testing.T) {
	rig := newFakeRig()
	rig.pipeline.WaitForFramesFunc = func(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
		return nil, errors.New("usb disconnected")
	}
	rig.pipeline.StopFunc = func(ctx context.Context) error {
		rig.closes = append(rig.closes, "pipeline")
		return errors.New("already gone")
	}
	_, err := rig.run(t, context.Background(), LoopConfig{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "usb disconnected")
	test.That(t, err.Error(), test.ShouldContainSubstring, "already gone")
	test.That(t, rig.closes, test.ShouldResemble, []string{"display", "pipeline"})
}

func TestLoopContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rig := newFakeRig()
	rig.display.PollKeyFunc = func(ctx context.Context, timeout time.Duration) (display.Key, error) {
		rig.polls++
		if rig.polls == 3 {
			cancel()
			return display.KeyNone, ctx.Err()
		}
		return display.KeyNone, nil
	}
	_, err := rig.run(t, ctx, LoopConfig{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rig.polls, test.ShouldEqual, 3)
	test.That(t, rig.closes, test.ShouldResemble, []string{"display", "pipeline"})
}

func TestLoopCloseOnce(t *testing.T) {
	rig := newFakeRig()
	session, err := NewSession(t.TempDir(), SessionOptions{Prefix: "test"})
	test.That(t, err, test.ShouldBeNil)
	loop := NewLoop(rig.pipeline, rig.display, session, LoopConfig{}, logging.NewTestLogger(t))
	test.That(t, loop.Setup(context.Background()), test.ShouldBeNil)
	test.That(t, loop.HasColor(), test.ShouldBeTrue)
	test.That(t, loop.Setup(context.Background()), test.ShouldNotBeNil)
	test.That(t, loop.Run(context.Background()), test.ShouldBeNil)
	test.That(t, loop.Close(context.Background()), test.ShouldBeNil)
	test.That(t, rig.closes, test.ShouldResemble, []string{"display", "pipeline"})

	_, err = os.Stat(filepath.Join(session.Dir, ManifestFile))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestLoopOverlayOnSmallPreview(t *testing.T) {
	rig := newFakeRig(display.KeySave, display.KeyNone, display.KeyEscape)
	var bounds []image.Rectangle
	rig.display.ShowFunc = func(window string, img image.Image) error {
		bounds = append(bounds, img.Bounds())
		return nil
	}
	session, err := rig.run(t, context.Background(), LoopConfig{Overlay: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, savedFiles(t, session.Dir), test.ShouldResemble, []string{"color_1.ply", "depth_1.ply"})
	test.That(t, bounds, test.ShouldHaveLength, 3)
	for _, b := range bounds {
		test.That(t, b, test.ShouldResemble, image.Rect(0, 0, frameWidth, frameHeight))
	}
}
