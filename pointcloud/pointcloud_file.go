package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Format is a file format a point cloud can be saved in.
type Format string

const (
	// FormatPLY is the Stanford polygon format; the default for saved captures.
	FormatPLY Format = "ply"
	// FormatPCD is the point cloud library format.
	FormatPCD Format = "pcd"
	// FormatLAS is the ASPRS lidar exchange format.
	FormatLAS Format = "las"
)

// ParseFormat returns the format with the given name or file extension.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(s), ".")); f {
	case FormatPLY, FormatPCD, FormatLAS:
		return f, nil
	case "":
		return FormatPLY, nil
	default:
		return "", errors.Errorf("unknown point cloud format %q", s)
	}
}

// Extension returns the file extension, including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Encoding selects between the text and binary flavors of a format.
type Encoding int

const (
	// EncodingBinary writes little endian binary data.
	EncodingBinary Encoding = iota
	// EncodingASCII writes human readable data.
	EncodingASCII
)

// ParseEncoding parses "ascii" or "binary".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "binary", "":
		return EncodingBinary, nil
	case "ascii":
		return EncodingASCII, nil
	default:
		return EncodingBinary, errors.Errorf("unknown point cloud encoding %q", s)
	}
}

func (e Encoding) String() string {
	if e == EncodingASCII {
		return "ascii"
	}
	return "binary"
}

// WriteToFile writes the cloud to fn in the given format. LAS has no ascii flavor and ignores enc.
// Nothing is left at fn when writing fails.
func WriteToFile(cloud PointCloud, fn string, format Format, enc Encoding) (err error) {
	defer func() {
		if err != nil {
			removeFile(fn)
		}
	}()
	if format == FormatLAS {
		return WriteToLASFile(cloud, fn)
	}

	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	switch format {
	case FormatPCD:
		pcdType := PCDBinary
		if enc == EncodingASCII {
			pcdType = PCDAscii
		}
		err = ToPCD(cloud, w, pcdType)
	case FormatPLY:
		err = ToPLY(cloud, w, enc)
	default:
		err = errors.Errorf("unsupported point cloud format %q", format)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

// removeFile removes fn if it is a regular file.
func removeFile(fn string) {
	if info, err := os.Lstat(fn); err == nil && info.Mode().IsRegular() {
		utils.UncheckedError(os.Remove(fn))
	}
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		lp = pr0

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	return lastErr
}

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}
	r, g, b := pt.RGB255()
	return int(r)<<16 | int(g)<<8 | int(b)
}

// ToPCD writes out a point cloud to a PCD file of the given type. Positions are written in meters.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	if cloud.MetaData().HasColor {
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F I\n"+
			"COUNT 1 1 1 1\n")
	} else {
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unsupported pcd type %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	hasColor := cloud.MetaData().HasColor
	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		x := pos.X / 1000.
		y := pos.Y / 1000.
		z := pos.Z / 1000.
		switch pcdtype {
		case PCDBinary:
			size := 12
			if hasColor {
				size = 16
			}
			buf := make([]byte, size)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(z)))
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(d)))
			}
			_, err = out.Write(buf)
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", x, y, z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", x, y, z)
			}
		}
		return err == nil
	})
	return err
}
