package rimage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"github.com/pkg/errors"
)

// PixelFormat is the layout of a color frame's raw bytes as delivered by a camera driver.
type PixelFormat int

const (
	// PixelFormatUnknown is any format this package cannot decode.
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatRGB is packed 8-bit R, G, B.
	PixelFormatRGB
	// PixelFormatBGR is packed 8-bit B, G, R.
	PixelFormatBGR
	// PixelFormatMJPG is a single JPEG image per frame.
	PixelFormatMJPG
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB:
		return "rgb"
	case PixelFormatBGR:
		return "bgr"
	case PixelFormatMJPG:
		return "mjpg"
	case PixelFormatUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// ParsePixelFormat returns the format with the given name. Unrecognized names yield
// PixelFormatUnknown and an UnsupportedPixelFormatError.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch strings.ToLower(name) {
	case "rgb":
		return PixelFormatRGB, nil
	case "bgr":
		return PixelFormatBGR, nil
	case "mjpg", "mjpeg", "jpeg":
		return PixelFormatMJPG, nil
	default:
		return PixelFormatUnknown, &UnsupportedPixelFormatError{Format: PixelFormatUnknown, Name: name}
	}
}

// UnsupportedPixelFormatError is returned when a frame is in a format that cannot be decoded.
type UnsupportedPixelFormatError struct {
	Format PixelFormat
	Name   string
}

func (e *UnsupportedPixelFormatError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unsupported pixel format %q", e.Name)
	}
	return fmt.Sprintf("unsupported pixel format %s", e.Format)
}

// NewUnsupportedPixelFormatError returns an error for the given format.
func NewUnsupportedPixelFormatError(f PixelFormat) error {
	return &UnsupportedPixelFormatError{Format: f}
}

// DecodeColorFrame converts the raw bytes of a color frame into an image.
func DecodeColorFrame(format PixelFormat, width, height int, data []byte) (*image.NRGBA, error) {
	switch format {
	case PixelFormatRGB:
		return decodePacked(width, height, data, 0, 1, 2)
	case PixelFormatBGR:
		return decodePacked(width, height, data, 2, 1, 0)
	case PixelFormatMJPG:
		return decodeMJPG(data)
	default:
		return nil, NewUnsupportedPixelFormatError(format)
	}
}

func decodePacked(width, height int, data []byte, ri, gi, bi int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size (%d, %d)", width, height)
	}
	if len(data) != width*height*3 {
		return nil, errors.Errorf("frame of %dx%d needs %d bytes, got %d", width, height, width*height*3, len(data))
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		img.Pix[j] = data[i+ri]
		img.Pix[j+1] = data[i+gi]
		img.Pix[j+2] = data[i+bi]
		img.Pix[j+3] = 255
	}
	return img, nil
}

func decodeMJPG(data []byte) (*image.NRGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode mjpg frame")
	}
	return toNRGBA(img), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// EncodeColorFrame is the inverse of DecodeColorFrame.
func EncodeColorFrame(img image.Image, format PixelFormat) ([]byte, error) {
	switch format {
	case PixelFormatRGB, PixelFormatBGR:
		b := img.Bounds()
		out := make([]byte, 0, b.Dx()*b.Dy()*3)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				if format == PixelFormatRGB {
					out = append(out, c.R, c.G, c.B)
				} else {
					out = append(out, c.B, c.G, c.R)
				}
			}
		}
		return out, nil
	case PixelFormatMJPG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, NewUnsupportedPixelFormatError(format)
	}
}
