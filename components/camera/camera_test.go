package camera_test

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/logging"
	"github.com/pcreg/depthcapture/rimage"
	"github.com/pcreg/depthcapture/rimage/transform"
	"github.com/pcreg/depthcapture/testutils/inject"
)

func testSystem() *transform.DepthColorIntrinsicsExtrinsics {
	intrinsics := transform.PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 100, Fy: 100, Ppx: 2, Ppy: 1}
	return &transform.DepthColorIntrinsicsExtrinsics{
		ColorCamera:  intrinsics,
		DepthCamera:  intrinsics,
		ExtrinsicD2C: transform.IdentityExtrinsics(),
	}
}

func testFrameSet(t *testing.T, withColor bool) *camera.FrameSet {
	t.Helper()
	dm := rimage.NewEmptyDepthMap(4, 3)
	dm.Set(0, 0, 1000)
	dm.Set(2, 1, 500)
	dm.Set(3, 2, 750)
	fs := &camera.FrameSet{Sequence: 1, Depth: dm}
	if withColor {
		img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				img.SetNRGBA(x, y, color.NRGBA{uint8(x * 60), uint8(y * 100), 10, 255})
			}
		}
		data, err := rimage.EncodeColorFrame(img, rimage.PixelFormatBGR)
		test.That(t, err, test.ShouldBeNil)
		fs.Color = &camera.ColorFrame{Format: rimage.PixelFormatBGR, Width: 4, Height: 3, Data: data}
	}
	return fs
}

func TestStreamProfileList(t *testing.T) {
	var empty camera.StreamProfileList
	_, err := empty.DefaultVideoStreamProfile()
	test.That(t, err, test.ShouldBeError, camera.ErrNoStreamProfile)

	list := camera.StreamProfileList{
		{Sensor: camera.SensorColor, Width: 1280, Height: 720, Format: rimage.PixelFormatMJPG, FPS: 30},
		{Sensor: camera.SensorColor, Width: 640, Height: 480, Format: rimage.PixelFormatRGB, FPS: 30},
	}
	p, err := list.DefaultVideoStreamProfile()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Width, test.ShouldEqual, 1280)
	test.That(t, p.String(), test.ShouldEqual, "color 1280x720 mjpg@30")
}

func TestPipelineConfig(t *testing.T) {
	var cfg camera.PipelineConfig
	_, ok := cfg.Enabled(camera.SensorDepth)
	test.That(t, ok, test.ShouldBeFalse)

	cfg.EnableStream(camera.StreamProfile{Sensor: camera.SensorDepth, Width: 640, Height: 400})
	cfg.EnableStream(camera.StreamProfile{Sensor: camera.SensorColor, Width: 640, Height: 480})
	cfg.EnableStream(camera.StreamProfile{Sensor: camera.SensorDepth, Width: 320, Height: 200})
	test.That(t, cfg.Streams, test.ShouldHaveLength, 2)

	p, ok := cfg.Enabled(camera.SensorDepth)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Width, test.ShouldEqual, 320)
}

func TestColorFrameDecode(t *testing.T) {
	fs := testFrameSet(t, true)
	img, err := fs.Color.Decode()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.NRGBAAt(3, 2), test.ShouldResemble, color.NRGBA{180, 200, 10, 255})

	bad := &camera.ColorFrame{Format: rimage.PixelFormatUnknown, Width: 1, Height: 1, Data: []byte{1, 2, 3}}
	_, err = bad.Decode()
	var unsupported *rimage.UnsupportedPixelFormatError
	test.That(t, errors.As(err, &unsupported), test.ShouldBeTrue)
}

func TestAlignFilter(t *testing.T) {
	sys := testSystem()

	t.Run("to color", func(t *testing.T) {
		fs := testFrameSet(t, true)
		aligned, err := camera.NewAlignFilter(camera.SensorColor, sys).Process(fs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, aligned.Aligned, test.ShouldBeTrue)
		test.That(t, aligned.AlignedTo, test.ShouldEqual, camera.SensorColor)
		test.That(t, aligned.Depth.GetDepth(0, 0), test.ShouldEqual, rimage.Depth(1000))
		test.That(t, aligned.Depth.GetDepth(2, 1), test.ShouldEqual, rimage.Depth(500))
		test.That(t, aligned.Depth.ValidCount(), test.ShouldEqual, 3)
		test.That(t, fs.Aligned, test.ShouldBeFalse)
	})

	t.Run("to depth", func(t *testing.T) {
		fs := testFrameSet(t, true)
		aligned, err := camera.NewAlignFilter(camera.SensorDepth, sys).Process(fs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, aligned.AlignedTo, test.ShouldEqual, camera.SensorDepth)
		test.That(t, aligned.Depth, test.ShouldEqual, fs.Depth)
		test.That(t, aligned.AlignedColor, test.ShouldNotBeNil)
		test.That(t, aligned.AlignedColor.NRGBAAt(2, 1), test.ShouldResemble, color.NRGBA{120, 100, 10, 255})
		// no depth, no color
		test.That(t, aligned.AlignedColor.NRGBAAt(1, 1), test.ShouldResemble, color.NRGBA{})

		depthOnly, err := camera.NewAlignFilter(camera.SensorDepth, sys).Process(testFrameSet(t, false))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, depthOnly.AlignedColor, test.ShouldBeNil)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := camera.NewAlignFilter(camera.SensorColor, nil).Process(testFrameSet(t, false))
		test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)

		_, err = camera.NewAlignFilter(camera.SensorColor, sys).Process(&camera.FrameSet{})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestPointCloudFilter(t *testing.T) {
	sys := testSystem()
	aligned, err := camera.NewAlignFilter(camera.SensorColor, sys).Process(testFrameSet(t, true))
	test.That(t, err, test.ShouldBeNil)

	filter := camera.NewPointCloudFilter(camera.PointFormatXYZ, sys)
	pc, err := filter.Process(aligned)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	test.That(t, pc.MetaData().HasColor, test.ShouldBeFalse)
	d, ok := pc.At(0, 0, 500)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeFalse)

	filter.SetCreatePointFormat(camera.PointFormatRGBXYZ)
	test.That(t, filter.Format(), test.ShouldEqual, camera.PointFormatRGBXYZ)
	pc, err = filter.Process(aligned)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	test.That(t, pc.MetaData().HasColor, test.ShouldBeTrue)
	d, ok = pc.At(0, 0, 500)
	test.That(t, ok, test.ShouldBeTrue)
	r, g, b := d.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{120, 100, 10})

	pc, err = filter.Process(testFrameSet(t, false))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc, test.ShouldBeNil)

	_, err = camera.NewPointCloudFilter(camera.PointFormatXYZ, nil).Process(aligned)
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
}

type testDriverConfig struct {
	Width int    `json:"width"`
	Name  string `json:"name"`
}

func (c *testDriverConfig) Validate(path string) error {
	if c.Width < 0 {
		return errors.Errorf("%s: width must not be negative", path)
	}
	return nil
}

func TestRegistry(t *testing.T) {
	logger := logging.NewTestLogger(t)
	var got *testDriverConfig
	camera.RegisterDriver("registry-test", func(ctx context.Context, conf *testDriverConfig, logger logging.Logger) (camera.Pipeline, error) {
		got = conf
		return &inject.Pipeline{}, nil
	})
	test.That(t, camera.RegisteredDrivers(), test.ShouldContain, "registry-test")

	p, err := camera.NewPipeline(context.Background(), "registry-test",
		map[string]interface{}{"width": 640, "name": "front"}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldNotBeNil)
	test.That(t, got, test.ShouldResemble, &testDriverConfig{Width: 640, Name: "front"})

	_, err = camera.NewPipeline(context.Background(), "registry-test", map[string]interface{}{"width": -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "width must not be negative")

	_, err = camera.NewPipeline(context.Background(), "registry-test", map[string]interface{}{"height": 1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = camera.NewPipeline(context.Background(), "no-such-driver", nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no-such-driver")

	test.That(t, func() {
		camera.RegisterDriver("registry-test", func(context.Context, *testDriverConfig, logging.Logger) (camera.Pipeline, error) {
			return nil, nil
		})
	}, test.ShouldPanic)
}
