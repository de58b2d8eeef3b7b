package transform

import (
	"encoding/json"
	"image"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/pcreg/depthcapture/rimage"
)

// Extrinsics is the rigid transform from the depth camera frame to the color camera frame.
// The rotation is row-major, the translation is in millimeters.
type Extrinsics struct {
	RotationMatrix    []float64 `json:"rotation"`
	TranslationVector []float64 `json:"translation_mm"`
}

// IdentityExtrinsics is used when depth and color share an optical center.
func IdentityExtrinsics() Extrinsics {
	return Extrinsics{
		RotationMatrix:    []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		TranslationVector: []float64{0, 0, 0},
	}
}

// CheckValid checks the sizes of the rotation and translation.
func (e *Extrinsics) CheckValid() error {
	if len(e.RotationMatrix) != 9 {
		return errors.Errorf("rotation matrix must have 9 elements, got %d", len(e.RotationMatrix))
	}
	if len(e.TranslationVector) != 3 {
		return errors.Errorf("translation vector must have 3 elements, got %d", len(e.TranslationVector))
	}
	return nil
}

// transformer returns a function applying the transform to a point.
func (e *Extrinsics) transformer() (func(r3.Vector) r3.Vector, error) {
	if err := e.CheckValid(); err != nil {
		return nil, err
	}
	rot := mat.NewDense(3, 3, e.RotationMatrix)
	t := e.TranslationVector
	in := mat.NewVecDense(3, nil)
	var out mat.VecDense
	return func(p r3.Vector) r3.Vector {
		in.SetVec(0, p.X)
		in.SetVec(1, p.Y)
		in.SetVec(2, p.Z)
		out.MulVec(rot, in)
		return r3.Vector{X: out.AtVec(0) + t[0], Y: out.AtVec(1) + t[1], Z: out.AtVec(2) + t[2]}
	}, nil
}

// DepthColorIntrinsicsExtrinsics holds the intrinsics of both sensors of a depth camera and the
// transform between them.
type DepthColorIntrinsicsExtrinsics struct {
	ColorCamera  PinholeCameraIntrinsics `json:"color_intrinsic_parameters"`
	DepthCamera  PinholeCameraIntrinsics `json:"depth_intrinsic_parameters"`
	ExtrinsicD2C Extrinsics              `json:"depth_to_color_extrinsic_parameters"`
}

// NewDepthColorIntrinsicsExtrinsicsFromBytes reads the camera system from JSON.
func NewDepthColorIntrinsicsExtrinsicsFromBytes(byteJSON []byte) (*DepthColorIntrinsicsExtrinsics, error) {
	intrinsics := &DepthColorIntrinsicsExtrinsics{}
	if err := json.Unmarshal(byteJSON, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing byte array")
	}
	return intrinsics, nil
}

// NewDepthColorIntrinsicsExtrinsicsFromJSONFile reads the camera system from a JSON file.
func NewDepthColorIntrinsicsExtrinsicsFromJSONFile(jsonPath string) (*DepthColorIntrinsicsExtrinsics, error) {
	//nolint:gosec
	byteValue, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	return NewDepthColorIntrinsicsExtrinsicsFromBytes(byteValue)
}

// CheckValid checks if the fields for DepthColorIntrinsicsExtrinsics have valid inputs.
func (dcie *DepthColorIntrinsicsExtrinsics) CheckValid() error {
	if dcie == nil {
		return NewNoIntrinsicsError("DepthColorIntrinsicsExtrinsics is nil")
	}
	if err := dcie.ColorCamera.CheckValid(); err != nil {
		return errors.Wrap(err, "color camera")
	}
	if err := dcie.DepthCamera.CheckValid(); err != nil {
		return errors.Wrap(err, "depth camera")
	}
	return dcie.ExtrinsicD2C.CheckValid()
}

// AlignDepthToColor reprojects the depth map onto the color camera's pixel grid. When several
// depth pixels land on the same color pixel the nearest one wins.
func (dcie *DepthColorIntrinsicsExtrinsics) AlignDepthToColor(dm *rimage.DepthMap) (*rimage.DepthMap, error) {
	if err := dcie.DepthCamera.checkDepthSize(dm); err != nil {
		return nil, err
	}
	toColor, err := dcie.ExtrinsicD2C.transformer()
	if err != nil {
		return nil, err
	}
	width, height := dcie.ColorCamera.Width, dcie.ColorCamera.Height
	aligned := rimage.NewEmptyDepthMap(width, height)
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			p := toColor(dcie.DepthCamera.ImagePointTo3DPoint(image.Point{x, y}, z))
			if p.Z <= 0 || p.Z > float64(rimage.MaxDepth) {
				continue
			}
			u, v := dcie.ColorCamera.PointToPixel(p.X, p.Y, p.Z)
			cx, cy := int(u), int(v)
			if !aligned.Contains(cx, cy) {
				continue
			}
			newZ := rimage.Depth(p.Z + 0.5)
			if old := aligned.GetDepth(cx, cy); old == 0 || newZ < old {
				aligned.Set(cx, cy, newZ)
			}
		}
	}
	return aligned, nil
}

// AlignColorToDepth samples the color image for every depth pixel, producing a color image on the
// depth camera's pixel grid. Pixels without depth, or that fall outside the color image, are left
// transparent black.
func (dcie *DepthColorIntrinsicsExtrinsics) AlignColorToDepth(img *image.NRGBA, dm *rimage.DepthMap) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("no rgb channel to align")
	}
	if err := dcie.DepthCamera.checkDepthSize(dm); err != nil {
		return nil, err
	}
	toColor, err := dcie.ExtrinsicD2C.transformer()
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	aligned := image.NewNRGBA(dm.Bounds())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			p := toColor(dcie.DepthCamera.ImagePointTo3DPoint(image.Point{x, y}, z))
			u, v := dcie.ColorCamera.PointToPixel(p.X, p.Y, p.Z)
			pt := image.Point{int(u), int(v)}.Add(bounds.Min)
			if !pt.In(bounds) {
				continue
			}
			aligned.SetNRGBA(x, y, img.NRGBAAt(pt.X, pt.Y))
		}
	}
	return aligned, nil
}
