// Package capture creates capture sessions and runs the loop that previews frames and saves point
// clouds on demand.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/pcreg/depthcapture/pointcloud"
)

// ManifestFile is the name of the manifest in a session directory.
const ManifestFile = "session.json"

// StreamKind names the stream a saved cloud was built from.
type StreamKind string

// The kinds of saved clouds.
const (
	KindDepth StreamKind = "depth"
	KindColor StreamKind = "color"
)

// sessionIndex parses <prefix><n>, where n is a non-negative base-10 integer.
func sessionIndex(name, prefix string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, prefix)
	if !ok || suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextSessionIndex returns one more than the largest index of the session directories in base, or
// 1 if there are none. A missing base directory has no sessions.
func NextSessionIndex(base, prefix string) (int, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	max := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if n, ok := sessionIndex(entry.Name(), prefix); ok && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// CreateSessionDir creates base if needed and the next session directory in it. Two runs racing
// for the same index make the later one fail.
func CreateSessionDir(base, prefix string) (string, int, error) {
	if err := os.MkdirAll(base, 0o750); err != nil {
		return "", 0, err
	}
	index, err := NextSessionIndex(base, prefix)
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Join(base, fmt.Sprintf("%s%d", prefix, index))
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", 0, err
	}
	return dir, index, nil
}

// SavedFile is one manifest entry.
type SavedFile struct {
	Kind     StreamKind `json:"kind"`
	Index    int        `json:"index"`
	Path     string     `json:"path"`
	Points   int        `json:"points"`
	Sequence uint64     `json:"sequence"`
	Time     time.Time  `json:"time"`
}

// Manifest describes a session and every file saved in it.
type Manifest struct {
	ID       uuid.UUID   `json:"id"`
	Started  time.Time   `json:"started"`
	Driver   string      `json:"driver"`
	HasColor bool        `json:"has_color"`
	Format   string      `json:"format"`
	Encoding string      `json:"encoding"`
	Files    []SavedFile `json:"files"`
}

// SessionOptions configures a new session.
type SessionOptions struct {
	Prefix   string
	Format   pointcloud.Format
	Encoding pointcloud.Encoding
	Driver   string
	Clock    clock.Clock
}

// Session holds the state of one capture run: where files go and how many of each kind were saved.
type Session struct {
	Dir   string
	Index int

	format     pointcloud.Format
	encoding   pointcloud.Encoding
	clk        clock.Clock
	depthCount int
	colorCount int
	manifest   Manifest
}

// NewSession creates the next session directory under base.
func NewSession(base string, opts SessionOptions) (*Session, error) {
	if opts.Prefix == "" {
		return nil, errors.New("session prefix must not be empty")
	}
	if opts.Format == "" {
		opts.Format = pointcloud.FormatPLY
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	dir, index, err := CreateSessionDir(base, opts.Prefix)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create session directory")
	}
	return &Session{
		Dir:        dir,
		Index:      index,
		format:     opts.Format,
		encoding:   opts.Encoding,
		clk:        opts.Clock,
		depthCount: 1,
		colorCount: 1,
		manifest: Manifest{
			ID:       uuid.New(),
			Started:  opts.Clock.Now().UTC(),
			Driver:   opts.Driver,
			Format:   string(opts.Format),
			Encoding: opts.Encoding.String(),
			Files:    []SavedFile{},
		},
	}, nil
}

// ID returns the unique id of the session.
func (s *Session) ID() uuid.UUID {
	return s.manifest.ID
}

// SetHasColor records whether the session captures color.
func (s *Session) SetHasColor(hasColor bool) {
	s.manifest.HasColor = hasColor
}

// NextIndex returns the index the next cloud of the given kind will be saved under.
func (s *Session) NextIndex(kind StreamKind) int {
	if kind == KindColor {
		return s.colorCount
	}
	return s.depthCount
}

// Files returns the files saved so far.
func (s *Session) Files() []SavedFile {
	return append([]SavedFile(nil), s.manifest.Files...)
}

// SaveCloud writes the cloud as <kind>_<index> and advances that kind's index. The index does not
// advance if writing fails.
func (s *Session) SaveCloud(kind StreamKind, cloud pointcloud.PointCloud, sequence uint64) (string, error) {
	if cloud == nil || cloud.Size() == 0 {
		return "", errors.Errorf("no %s point cloud to save", kind)
	}
	index := s.NextIndex(kind)
	name := fmt.Sprintf("%s_%d%s", kind, index, s.format.Extension())
	fn := filepath.Join(s.Dir, name)
	if err := pointcloud.WriteToFile(cloud, fn, s.format, s.encoding); err != nil {
		return "", errors.Wrapf(err, "cannot save %s point cloud", kind)
	}
	if kind == KindColor {
		s.colorCount++
	} else {
		s.depthCount++
	}
	s.manifest.Files = append(s.manifest.Files, SavedFile{
		Kind:     kind,
		Index:    index,
		Path:     name,
		Points:   cloud.Size(),
		Sequence: sequence,
		Time:     s.clk.Now().UTC(),
	})
	return fn, nil
}

// WriteManifest replaces the session's manifest file.
func (s *Session) WriteManifest() (err error) {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.Dir, "."+ManifestFile+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			utils.UncheckedError(os.Remove(f.Name()))
		}
	}()
	if _, err := f.Write(data); err != nil {
		return multierr.Combine(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filepath.Join(s.Dir, ManifestFile))
}

// ReadManifest reads the manifest of a session directory.
func ReadManifest(dir string) (*Manifest, error) {
	//nolint:gosec
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "cannot parse manifest of %q", dir)
	}
	return &m, nil
}

// SessionInfo summarizes a session directory found on disk.
type SessionInfo struct {
	Index      int
	Dir        string
	DepthFiles int
	ColorFiles int
	// Manifest is nil for sessions without a readable manifest.
	Manifest *Manifest
}

// ListSessions returns the sessions in base ordered by index.
func ListSessions(base, prefix string) ([]SessionInfo, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var infos []SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		index, ok := sessionIndex(entry.Name(), prefix)
		if !ok {
			continue
		}
		info := SessionInfo{Index: index, Dir: filepath.Join(base, entry.Name())}
		files, err := os.ReadDir(info.Dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			switch {
			case strings.HasPrefix(f.Name(), string(KindDepth)+"_"):
				info.DepthFiles++
			case strings.HasPrefix(f.Name(), string(KindColor)+"_"):
				info.ColorFiles++
			}
		}
		if m, err := ReadManifest(info.Dir); err == nil {
			info.Manifest = m
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos, nil
}
