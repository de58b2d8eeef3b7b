package rimage

import (
	"image"
	// register decoders for color frames recorded to disk.
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadImageFromFile decodes any registered image format (jpeg, png, ppm) into NRGBA.
func ReadImageFromFile(path string) (*image.NRGBA, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode image %q", path)
	}
	return toNRGBA(img), nil
}
