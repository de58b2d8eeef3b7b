package rimage

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabelHeight is the height in pixels of text drawn by DrawString.
const LabelHeight = 13

// DrawString draws text in a 7x13 bitmap font with the top left of the text at pt. Text past the
// edges of dst is clipped.
func DrawString(dst draw.Image, text string, pt image.Point, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(pt.X, pt.Y+basicfont.Face7x13.Ascent),
	}
	d.DrawString(text)
}
