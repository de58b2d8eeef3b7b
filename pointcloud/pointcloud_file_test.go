package pointcloud

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeColoredCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Set(NewVector(-12.5, 3, 800), NewColoredData(color.NRGBA{255, 0, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0, 0, 1000), NewColoredData(color.NRGBA{0, 255, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(40.25, -7, 1200), NewColoredData(color.NRGBA{0, 0, 255, 255})), test.ShouldBeNil)
	return pc
}

func TestPLYHeader(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPLY(makeColoredCloud(t), &buf, EncodingASCII), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[:11], test.ShouldResemble, []string{
		"ply",
		"format ascii 1.0",
		"element vertex 3",
		"property float x",
		"property float y",
		"property float z",
		"property uchar red",
		"property uchar green",
		"property uchar blue",
		"end_header",
		"-12.5 3 800 255 0 0",
	})
	test.That(t, lines, test.ShouldHaveLength, 13)

	buf.Reset()
	depthOnly := New()
	test.That(t, depthOnly.Set(NewVector(1, 2, 3), nil), test.ShouldBeNil)
	test.That(t, ToPLY(depthOnly, &buf, EncodingBinary), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "format binary_little_endian 1.0\n")
	test.That(t, out, test.ShouldNotContainSubstring, "red")
	idx := strings.Index(out, "end_header\n")
	test.That(t, len(out)-(idx+len("end_header\n")), test.ShouldEqual, 12)
}

func TestReadPLY(t *testing.T) {
	for _, enc := range []Encoding{EncodingASCII, EncodingBinary} {
		t.Run(enc.String(), func(t *testing.T) {
			var buf bytes.Buffer
			orig := makeColoredCloud(t)
			test.That(t, ToPLY(orig, &buf, enc), test.ShouldBeNil)

			read, err := ReadPLY(&buf)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, read.Size(), test.ShouldEqual, 3)
			test.That(t, read.MetaData().HasColor, test.ShouldBeTrue)
			d, ok := read.At(40.25, -7, 1200)
			test.That(t, ok, test.ShouldBeTrue)
			r, g, b := d.RGB255()
			test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{0, 0, 255})
		})
	}
}

func TestReadPLYErrors(t *testing.T) {
	_, err := ReadPLY(strings.NewReader("pcd\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a ply file")

	_, err = ReadPLY(strings.NewReader("ply\nformat binary_big_endian 1.0\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported ply format")

	_, err = ReadPLY(strings.NewReader("ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nend_header\n1\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no y property")

	// a vertex count the data does not back up is an error, whatever its size
	for _, header := range []string{
		"ply\nformat ascii 1.0\nelement vertex 9000000000000000000\n",
		"ply\nformat binary_little_endian 1.0\nelement vertex 2000000000\n",
	} {
		_, err = ReadPLY(strings.NewReader(header + "property float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "error reading vertex")
	}

	// faces after the vertex list are ignored
	pc, err := ReadPLY(strings.NewReader("ply\nformat ascii 1.0\ncomment made by hand\nelement vertex 2\n" +
		"property float x\nproperty float y\nproperty float z\n" +
		"element face 0\nproperty list uchar int vertex_indices\nend_header\n1 2 3\n4 5 6"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	test.That(t, pc.MetaData().HasColor, test.ShouldBeFalse)
}

func TestWriteToFile(t *testing.T) {
	dir := t.TempDir()
	pc := makeColoredCloud(t)

	plyPath := filepath.Join(dir, "color_1"+FormatPLY.Extension())
	test.That(t, WriteToFile(pc, plyPath, FormatPLY, EncodingBinary), test.ShouldBeNil)
	read, err := ReadPLYFile(plyPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, pc.Size())

	pcdPath := filepath.Join(dir, "color_1"+FormatPCD.Extension())
	test.That(t, WriteToFile(pc, pcdPath, FormatPCD, EncodingASCII), test.ShouldBeNil)
	//nolint:gosec
	raw, err := os.ReadFile(pcdPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(raw), test.ShouldContainSubstring, "FIELDS x y z rgb\n")
	test.That(t, string(raw), test.ShouldContainSubstring, "POINTS 3\n")
	// pcd is in meters
	test.That(t, string(raw), test.ShouldContainSubstring, "0.000000 0.000000 1.000000 65280\n")
}

func TestWriteToFileFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "depth_1.xyz")
	err := WriteToFile(makeColoredCloud(t), fn, Format("xyz"), EncodingBinary)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = os.Stat(fn)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	// a directory in the way is reported, not removed
	blocked := filepath.Join(dir, "depth_2.ply")
	test.That(t, os.Mkdir(blocked, 0o700), test.ShouldBeNil)
	test.That(t, WriteToFile(makeColoredCloud(t), blocked, FormatPLY, EncodingBinary), test.ShouldNotBeNil)
	info, err := os.Stat(blocked)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.IsDir(), test.ShouldBeTrue)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(".PLY")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, FormatPLY)

	f, err = ParseFormat("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, FormatPLY)

	f, err = ParseFormat("las")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Extension(), test.ShouldEqual, ".las")

	_, err = ParseFormat("obj")
	test.That(t, err, test.ShouldNotBeNil)

	enc, err := ParseEncoding("ascii")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, enc, test.ShouldEqual, EncodingASCII)
	_, err = ParseEncoding("hex")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewVector(t *testing.T) {
	test.That(t, NewVector(1, 2, 3), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
}
