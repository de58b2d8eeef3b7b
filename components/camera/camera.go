// Package camera defines the boundary to a depth/color camera: stream profiles, frame sets, the
// capture pipeline and the filters applied to frame sets.
package camera

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/pcreg/depthcapture/rimage"
	"github.com/pcreg/depthcapture/rimage/transform"
)

// ErrNoStreamProfile is returned when a sensor offers no stream profile.
var ErrNoStreamProfile = errors.New("no stream profile available")

// SensorType identifies one sensor of a depth camera.
type SensorType int

// The sensors of a depth camera.
const (
	SensorDepth SensorType = iota
	SensorColor
)

func (s SensorType) String() string {
	switch s {
	case SensorDepth:
		return "depth"
	case SensorColor:
		return "color"
	default:
		return fmt.Sprintf("SensorType(%d)", int(s))
	}
}

// StreamType is the stream a frame belongs to. Every sensor has exactly one stream.
type StreamType = SensorType

// PointFormat selects what a point cloud filter produces.
type PointFormat int

const (
	// PointFormatXYZ produces uncolored points from depth only.
	PointFormatXYZ PointFormat = iota
	// PointFormatRGBXYZ produces colored points from depth and color.
	PointFormatRGBXYZ
)

func (f PointFormat) String() string {
	if f == PointFormatRGBXYZ {
		return "rgbxyz"
	}
	return "xyz"
}

// StreamProfile is one resolution/format/rate combination a sensor can stream.
type StreamProfile struct {
	Sensor SensorType
	Width  int
	Height int
	// Format is only meaningful for color profiles.
	Format rimage.PixelFormat
	FPS    int
}

func (p StreamProfile) String() string {
	if p.Sensor == SensorColor {
		return fmt.Sprintf("%s %dx%d %s@%d", p.Sensor, p.Width, p.Height, p.Format, p.FPS)
	}
	return fmt.Sprintf("%s %dx%d@%d", p.Sensor, p.Width, p.Height, p.FPS)
}

// StreamProfileList is the list of profiles one sensor offers. The first entry is the device
// default.
type StreamProfileList []StreamProfile

// DefaultVideoStreamProfile returns the device default profile.
func (l StreamProfileList) DefaultVideoStreamProfile() (StreamProfile, error) {
	if len(l) == 0 {
		return StreamProfile{}, ErrNoStreamProfile
	}
	return l[0], nil
}

// ColorFrame is an encoded color image as delivered by the device.
type ColorFrame struct {
	Format rimage.PixelFormat
	Width  int
	Height int
	Data   []byte
}

// Decode decodes the frame into an NRGBA image. Formats other than rgb, bgr and mjpg return an
// *rimage.UnsupportedPixelFormatError.
func (f *ColorFrame) Decode() (*image.NRGBA, error) {
	return rimage.DecodeColorFrame(f.Format, f.Width, f.Height, f.Data)
}

// FrameSet is a synchronized bundle of one depth frame and, optionally, one color frame.
type FrameSet struct {
	Sequence  uint64
	Timestamp time.Time
	Depth     *rimage.DepthMap
	Color     *ColorFrame

	// Set by an AlignFilter.
	Aligned   bool
	AlignedTo StreamType
	// AlignedColor is the color image on the depth grid after aligning to depth.
	AlignedColor *image.NRGBA
}

// HasColor reports whether the frame set carries a color frame.
func (fs *FrameSet) HasColor() bool {
	return fs != nil && fs.Color != nil
}

// PipelineConfig lists the streams to enable when starting a pipeline.
type PipelineConfig struct {
	Streams   []StreamProfile
	FrameSync bool
}

// EnableStream adds a stream profile, replacing any profile for the same sensor.
func (c *PipelineConfig) EnableStream(p StreamProfile) {
	for i, s := range c.Streams {
		if s.Sensor == p.Sensor {
			c.Streams[i] = p
			return
		}
	}
	c.Streams = append(c.Streams, p)
}

// Enabled returns the enabled profile for the sensor, if any.
func (c *PipelineConfig) Enabled(sensor SensorType) (StreamProfile, bool) {
	if c == nil {
		return StreamProfile{}, false
	}
	for _, s := range c.Streams {
		if s.Sensor == sensor {
			return s, true
		}
	}
	return StreamProfile{}, false
}

// Pipeline is an opened depth camera.
type Pipeline interface {
	// StreamProfiles lists the profiles of a sensor. A sensor the device lacks returns an error.
	StreamProfiles(ctx context.Context, sensor SensorType) (StreamProfileList, error)
	// EnableFrameSync asks the device to pair depth and color frames by time.
	EnableFrameSync() error
	// Start starts streaming the configured streams.
	Start(ctx context.Context, cfg *PipelineConfig) error
	// WaitForFrames waits up to timeout for the next frame set. A timeout returns nil, nil.
	WaitForFrames(ctx context.Context, timeout time.Duration) (*FrameSet, error)
	// CameraSystem returns the calibration of the device.
	CameraSystem() (*transform.DepthColorIntrinsicsExtrinsics, error)
	// Stop stops streaming. It is safe to call more than once.
	Stop(ctx context.Context) error
}
