package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestTeeToFile(t *testing.T) {
	parent, observed := NewObservedTestLogger(t)
	fn := filepath.Join(t.TempDir(), "capture.log")

	logger, closer := TeeToFile(parent.Sublogger("session"), fn, 0)
	logger.Debugw("frame", "sequence", 7)
	logger.Infof("Saved %s point cloud: %s", "depth", "depth_1.ply")
	test.That(t, closer.Close(), test.ShouldBeNil)

	test.That(t, observed.Len(), test.ShouldEqual, 2)

	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)

	var entry map[string]interface{}
	test.That(t, json.Unmarshal([]byte(lines[0]), &entry), test.ShouldBeNil)
	test.That(t, entry["level"], test.ShouldEqual, "DEBUG")
	test.That(t, entry["msg"], test.ShouldEqual, "frame")
	test.That(t, entry["sequence"], test.ShouldEqual, 7.0)
	test.That(t, entry["logger"], test.ShouldEqual, "session")

	test.That(t, json.Unmarshal([]byte(lines[1]), &entry), test.ShouldBeNil)
	test.That(t, entry["msg"], test.ShouldEqual, "Saved depth point cloud: depth_1.ply")
}
