// Package transform holds the camera models used to align depth and color frames and to
// project them into 3D.
package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/pcreg/depthcapture/pointcloud"
	"github.com/pcreg/depthcapture/rimage"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point cloud.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	// get x and y
	xm := xOverZ * z
	ym := yOverZ * z
	return xm, ym, z
}

// PointToPixel projects a 3D point to a pixel in an image plane.
// The intrinsics parameters should be the ones of the sensor we want to project to.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := math.Round((x/z)*params.Fx + params.Ppx)
		yPx := math.Round((y/z)*params.Fy + params.Ppy)
		return xPx, yPx
	}
	// if depth is zero at this pixel, return negative coordinates so that the cropping to RGB bounds will filter it out
	return -1.0, -1.0
}

// ImagePointTo3DPoint takes in a image coordinate and returns the 3D point from the camera matrix.
func (params *PinholeCameraIntrinsics) ImagePointTo3DPoint(point image.Point, d rimage.Depth) r3.Vector {
	px, py, pz := params.PixelToPoint(float64(point.X), float64(point.Y), float64(d))
	return r3.Vector{X: px, Y: py, Z: pz}
}

func (params *PinholeCameraIntrinsics) checkDepthSize(dm *rimage.DepthMap) error {
	if dm == nil {
		return errors.New("no depth channel. Cannot project to Pointcloud")
	}
	if params.Width != dm.Width() || params.Height != dm.Height() {
		return errors.Errorf("depth map and intrinsics don't match Depth(%d,%d) != Intrinsics(%d,%d)",
			dm.Width(), dm.Height(), params.Width, params.Height)
	}
	return nil
}

// DepthToPointCloud projects every pixel with a depth measurement to an uncolored point.
func (params *PinholeCameraIntrinsics) DepthToPointCloud(dm *rimage.DepthMap) (pointcloud.PointCloud, error) {
	if err := params.checkDepthSize(dm); err != nil {
		return nil, err
	}
	pc := pointcloud.NewWithPrealloc(dm.ValidCount())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			if err := pc.Set(params.ImagePointTo3DPoint(image.Point{x, y}, z), pointcloud.NewBasicData()); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}

// RGBDToPointCloud takes a color image and a depth map on the same pixel grid and projects every
// pixel with a depth measurement to a colored point.
func (params *PinholeCameraIntrinsics) RGBDToPointCloud(img *image.NRGBA, dm *rimage.DepthMap) (pointcloud.PointCloud, error) {
	if img == nil {
		return nil, errors.New("no rgb channel. Cannot project to Pointcloud")
	}
	if err := params.checkDepthSize(dm); err != nil {
		return nil, err
	}
	if img.Bounds() != dm.Bounds() {
		return nil, errors.Errorf("depth map and color dimensions don't match Depth(%d,%d) != Color(%d,%d)",
			dm.Width(), dm.Height(), img.Bounds().Dx(), img.Bounds().Dy())
	}
	pc := pointcloud.NewWithPrealloc(dm.ValidCount())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			c := img.NRGBAAt(x, y)
			err := pc.Set(params.ImagePointTo3DPoint(image.Point{x, y}, z),
				pointcloud.NewColoredData(color.NRGBA{c.R, c.G, c.B, 255}))
			if err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}
