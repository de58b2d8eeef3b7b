package camera

import (
	"image"

	"github.com/pkg/errors"

	"github.com/pcreg/depthcapture/pointcloud"
	"github.com/pcreg/depthcapture/rimage/transform"
)

// AlignFilter brings the depth and color frames of a frame set onto one pixel grid.
type AlignFilter struct {
	target StreamType
	system *transform.DepthColorIntrinsicsExtrinsics
}

// NewAlignFilter returns a filter aligning frame sets to the target stream.
func NewAlignFilter(target StreamType, system *transform.DepthColorIntrinsicsExtrinsics) *AlignFilter {
	return &AlignFilter{target: target, system: system}
}

// Target returns the stream frame sets are aligned to.
func (f *AlignFilter) Target() StreamType {
	return f.target
}

// Process returns an aligned copy of the frame set. When aligning to color the depth map is
// reprojected onto the color grid; when aligning to depth the color image, if any, is sampled onto
// the depth grid.
func (f *AlignFilter) Process(fs *FrameSet) (*FrameSet, error) {
	if fs == nil || fs.Depth == nil {
		return nil, errors.New("cannot align a frame set without depth")
	}
	if err := f.system.CheckValid(); err != nil {
		return nil, err
	}
	out := *fs
	out.Aligned = true
	out.AlignedTo = f.target

	switch f.target {
	case SensorColor:
		aligned, err := f.system.AlignDepthToColor(fs.Depth)
		if err != nil {
			return nil, err
		}
		out.Depth = aligned
	case SensorDepth:
		if !fs.HasColor() {
			return &out, nil
		}
		img, err := fs.Color.Decode()
		if err != nil {
			return nil, err
		}
		aligned, err := f.system.AlignColorToDepth(img, fs.Depth)
		if err != nil {
			return nil, err
		}
		out.AlignedColor = aligned
	default:
		return nil, errors.Errorf("cannot align to %s", f.target)
	}
	return &out, nil
}

// PointCloudFilter turns a frame set into a point cloud in millimeters.
type PointCloudFilter struct {
	format PointFormat
	system *transform.DepthColorIntrinsicsExtrinsics
}

// NewPointCloudFilter returns a point cloud filter producing points of the given format.
func NewPointCloudFilter(format PointFormat, system *transform.DepthColorIntrinsicsExtrinsics) *PointCloudFilter {
	return &PointCloudFilter{format: format, system: system}
}

// SetCreatePointFormat changes the format of the clouds produced.
func (f *PointCloudFilter) SetCreatePointFormat(format PointFormat) {
	f.format = format
}

// Format returns the format of the clouds produced.
func (f *PointCloudFilter) Format() PointFormat {
	return f.format
}

// Process builds the cloud. Asking for colored points from a frame set with no color frame
// returns a nil cloud and no error.
func (f *PointCloudFilter) Process(fs *FrameSet) (pointcloud.PointCloud, error) {
	if fs == nil || fs.Depth == nil {
		return nil, errors.New("cannot build a point cloud from a frame set without depth")
	}
	if f.system == nil {
		return nil, transform.NewNoIntrinsicsError("no camera system for point cloud filter")
	}
	intrinsics := &f.system.DepthCamera
	if fs.Aligned && fs.AlignedTo == SensorColor {
		intrinsics = &f.system.ColorCamera
	}

	if f.format == PointFormatXYZ {
		return intrinsics.DepthToPointCloud(fs.Depth)
	}
	if !fs.HasColor() {
		return nil, nil
	}
	var img *image.NRGBA
	if fs.Aligned && fs.AlignedTo == SensorDepth && fs.AlignedColor != nil {
		img = fs.AlignedColor
	} else {
		var err error
		if img, err = fs.Color.Decode(); err != nil {
			return nil, err
		}
	}
	return intrinsics.RGBDToPointCloud(img, fs.Depth)
}
