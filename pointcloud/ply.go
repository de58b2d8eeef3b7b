package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

const (
	plyFormatASCII  = "ascii"
	plyFormatBinary = "binary_little_endian"
)

// ToPLY writes the cloud as a PLY vertex list. Positions are written in millimeters as float32;
// colored clouds add uchar red, green and blue properties.
func ToPLY(cloud PointCloud, out io.Writer, enc Encoding) error {
	hasColor := cloud.MetaData().HasColor
	format := plyFormatBinary
	if enc == EncodingASCII {
		format = plyFormatASCII
	}

	header := fmt.Sprintf("ply\n"+
		"format %s 1.0\n"+
		"element vertex %d\n"+
		"property float x\n"+
		"property float y\n"+
		"property float z\n", format, cloud.Size())
	if hasColor {
		header += "property uchar red\n" +
			"property uchar green\n" +
			"property uchar blue\n"
	}
	header += "end_header\n"
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 15)
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		var r, g, b uint8
		if hasColor && d != nil && d.HasColor() {
			r, g, b = d.RGB255()
		}
		if enc == EncodingASCII {
			if hasColor {
				_, err = fmt.Fprintf(out, "%g %g %g %d %d %d\n", float32(p.X), float32(p.Y), float32(p.Z), r, g, b)
			} else {
				_, err = fmt.Fprintf(out, "%g %g %g\n", float32(p.X), float32(p.Y), float32(p.Z))
			}
			return err == nil
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
		n := 12
		if hasColor {
			buf[12], buf[13], buf[14] = r, g, b
			n = 15
		}
		_, err = out.Write(buf[:n])
		return err == nil
	})
	return err
}

// WriteToPLYFile writes the cloud to a PLY file.
func WriteToPLYFile(cloud PointCloud, fn string, enc Encoding) error {
	return WriteToFile(cloud, fn, FormatPLY, enc)
}

type plyProperty struct {
	name string
	kind string
}

var plyPropertySizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4, "double": 8, "float64": 8,
}

type plyHeader struct {
	format     string
	vertices   int
	properties []plyProperty
}

func (h *plyHeader) index(name string) int {
	for i, p := range h.properties {
		if p.name == name {
			return i
		}
	}
	return -1
}

func readPLYHeader(in *bufio.Reader) (*plyHeader, error) {
	line, err := in.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "error reading ply magic")
	}
	if strings.TrimSpace(line) != "ply" {
		return nil, errors.New("not a ply file")
	}

	header := &plyHeader{vertices: -1}
	inVertex := false
	for {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "error reading ply header")
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "comment", "obj_info":
		case "format":
			if len(tokens) != 3 {
				return nil, errors.Errorf("bad format line %q", strings.TrimSpace(line))
			}
			if tokens[1] != plyFormatASCII && tokens[1] != plyFormatBinary {
				return nil, errors.Errorf("unsupported ply format %s", tokens[1])
			}
			header.format = tokens[1]
		case "element":
			if len(tokens) != 3 {
				return nil, errors.Errorf("bad element line %q", strings.TrimSpace(line))
			}
			inVertex = tokens[1] == "vertex"
			if !inVertex {
				if header.vertices < 0 {
					return nil, errors.Errorf("element %s before vertex is not supported", tokens[1])
				}
				continue
			}
			header.vertices, err = strconv.Atoi(tokens[2])
			if err != nil || header.vertices < 0 {
				return nil, errors.Errorf("invalid vertex count %q", tokens[2])
			}
		case "property":
			if !inVertex {
				continue
			}
			if len(tokens) != 3 {
				return nil, errors.Errorf("unsupported vertex property %q", strings.TrimSpace(line))
			}
			if _, ok := plyPropertySizes[tokens[1]]; !ok {
				return nil, errors.Errorf("unsupported property type %s", tokens[1])
			}
			header.properties = append(header.properties, plyProperty{name: tokens[2], kind: tokens[1]})
		case "end_header":
			if header.format == "" {
				return nil, errors.New("ply header has no format")
			}
			if header.vertices < 0 {
				return nil, errors.New("ply header has no vertex element")
			}
			for _, axis := range []string{"x", "y", "z"} {
				if header.index(axis) < 0 {
					return nil, errors.Errorf("ply vertex has no %s property", axis)
				}
			}
			return header, nil
		default:
			return nil, errors.Errorf("unexpected ply header line %q", strings.TrimSpace(line))
		}
	}
}

func readPLYBinaryValue(kind string, buf []byte) float64 {
	switch kind {
	case "char", "int8":
		return float64(int8(buf[0]))
	case "uchar", "uint8":
		return float64(buf[0])
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(buf)))
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(buf))
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(buf)))
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(buf))
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	}
}

// maxPLYPrealloc bounds the points allocated up front when reading a PLY file.
const maxPLYPrealloc = 1 << 20

// ReadPLY reads the vertex element of an ascii or binary little endian PLY file.
func ReadPLY(inRaw io.Reader) (PointCloud, error) {
	in := bufio.NewReader(inRaw)
	header, err := readPLYHeader(in)
	if err != nil {
		return nil, err
	}
	xi, yi, zi := header.index("x"), header.index("y"), header.index("z")
	ri, gi, bi := header.index("red"), header.index("green"), header.index("blue")
	hasColor := ri >= 0 && gi >= 0 && bi >= 0

	// the vertex count is only trusted as far as the data backs it up
	pc := NewWithPrealloc(min(header.vertices, maxPLYPrealloc))
	values := make([]float64, len(header.properties))
	var scratch [8]byte
	for i := 0; i < header.vertices; i++ {
		if header.format == plyFormatASCII {
			line, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return nil, errors.Wrapf(err, "error reading vertex %d", i)
			}
			tokens := strings.Fields(line)
			if len(tokens) != len(values) {
				return nil, errors.Errorf("unexpected number of fields in vertex %d", i)
			}
			for j, token := range tokens {
				values[j], err = strconv.ParseFloat(token, 64)
				if err != nil {
					return nil, errors.Errorf("invalid vertex %d field %s: %s", i, token, err)
				}
			}
		} else {
			for j, prop := range header.properties {
				buf := scratch[:plyPropertySizes[prop.kind]]
				if _, err := io.ReadFull(in, buf); err != nil {
					return nil, errors.Wrapf(err, "error reading vertex %d", i)
				}
				values[j] = readPLYBinaryValue(prop.kind, buf)
			}
		}

		var d Data
		if hasColor {
			d = NewColoredData(color.NRGBA{uint8(values[ri]), uint8(values[gi]), uint8(values[bi]), 255})
		} else {
			d = NewBasicData()
		}
		if err := pc.Set(NewVector(values[xi], values[yi], values[zi]), d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// ReadPLYFile reads a PLY file from disk.
func ReadPLYFile(fn string) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadPLY(f)
}
