package rimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestDrawString(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	DrawString(img, "s", image.Pt(0, 0), color.White)

	inside, outside := 0, 0
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if img.NRGBAAt(x, y).A == 0 {
				continue
			}
			if x < 7 && y < LabelHeight {
				inside++
			} else {
				outside++
			}
		}
	}
	test.That(t, inside, test.ShouldBeGreaterThan, 0)
	test.That(t, outside, test.ShouldEqual, 0)

	// clipped, not a panic
	DrawString(img, "a long label that does not fit", image.Pt(15, 15), color.White)
}
