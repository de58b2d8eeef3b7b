package rimage

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Depth is the depth of a pixel in millimeters. Zero means no measurement.
type Depth uint16

// MaxDepth is the largest depth a DepthMap can hold.
const MaxDepth = Depth(math.MaxUint16)

// DepthMap is a row-major grid of depths. It implements image.Image with a 16-bit gray model
// so it can be encoded as a 16-bit PNG.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns an all-zero depth map of the given size.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

func (dm *DepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// HasData returns whether the depth map has any pixels.
func (dm *DepthMap) HasData() bool {
	return dm.width > 0 && dm.data != nil
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Contains returns whether x, y is inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// Get returns the depth at the given point.
func (dm *DepthMap) Get(p image.Point) Depth {
	return dm.data[dm.kxy(p.X, p.Y)]
}

// GetDepth returns the depth at x, y.
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[dm.kxy(x, y)]
}

// Set sets the depth at x, y.
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[dm.kxy(x, y)] = val
}

// MinMax returns the smallest and largest non-zero depth. Both are zero for an empty map.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min, max := MaxDepth, Depth(0)
	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}
	if max == 0 {
		return 0, 0
	}
	return min, max
}

// ValidCount returns the number of pixels with a depth measurement.
func (dm *DepthMap) ValidCount() int {
	n := 0
	for _, z := range dm.data {
		if z != 0 {
			n++
		}
	}
	return n
}

// Clone makes a deep copy of the depth map.
func (dm *DepthMap) Clone() *DepthMap {
	ret := NewEmptyDepthMap(dm.width, dm.height)
	copy(ret.data, dm.data)
	return ret
}

// ColorModel for image.Image.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// Bounds for image.Image.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// At for image.Image.
func (dm *DepthMap) At(x, y int) color.Color {
	if !dm.Contains(x, y) {
		return color.Gray16{}
	}
	return color.Gray16{Y: uint16(dm.GetDepth(x, y))}
}

// ToGray16 converts the depth map to a standard library image.
func (dm *DepthMap) ToGray16() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ConvertImageToDepthMap takes an image and figures out if it's already a DepthMap
// or if it can be interpreted as one. Only 16-bit gray images carry millimeter depth.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	switch ii := img.(type) {
	case *DepthMap:
		return ii, nil
	case *image.Gray16:
		bounds := ii.Bounds()
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(ii.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm, nil
	default:
		return nil, errors.Errorf("don't know how to make DepthMap from %T", img)
	}
}

// NewDepthMapFromFile reads a 16-bit PNG depth image.
func NewDepthMapFromFile(fn string) (*DepthMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode depth png %q", fn)
	}
	return ConvertImageToDepthMap(img)
}

// WriteToFile writes the depth map as a 16-bit PNG.
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return png.Encode(f, dm.ToGray16())
}

// ToPrettyPicture renders the depth map with a hue ramp from orange (near) to blue (far).
// Depths are clamped to [hardMin, hardMax]; pixels without depth stay black.
func (dm *DepthMap) ToPrettyPicture(hardMin, hardMax Depth) *image.NRGBA {
	min, max := dm.MinMax()
	if min < hardMin {
		min = hardMin
	}
	if max > hardMax {
		max = hardMax
	}

	img := image.NewNRGBA(image.Rect(0, 0, dm.Width(), dm.Height()))
	span := float64(max) - float64(min)
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
				continue
			}
			if z < min {
				z = min
			}
			if z > max {
				z = max
			}
			ratio := 0.0
			if span > 0 {
				ratio = float64(z-min) / span
			}
			r, g, b := colorful.Hsv(30+(200.0*ratio), 1.0, 1.0).RGB255()
			img.SetNRGBA(x, y, color.NRGBA{r, g, b, 255})
		}
	}
	return img
}
