package display

import (
	"bufio"
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/term"

	"github.com/pcreg/depthcapture/logging"
)

const keyInterrupt = 3

// escapeSequenceTimeout is how long an escape byte waits for the rest of a key sequence.
const escapeSequenceTimeout = 25 * time.Millisecond

// TerminalConfig configures a Terminal.
type TerminalConfig struct {
	// Input is read for keystrokes. If it is a terminal it is put in raw mode until Close.
	Input io.Reader
	// PreviewPath is the JPEG file previews are written to. Empty disables previews.
	PreviewPath string
	// PreviewWidth scales previews down to this width. Zero keeps the original size.
	PreviewWidth int
	// PreviewInterval is the shortest time between two preview writes.
	PreviewInterval time.Duration
	Clock           clock.Clock
}

// Terminal is a Display that reads single keystrokes from a terminal and writes previews to an
// image file that any image viewer can keep open.
type Terminal struct {
	cfg    TerminalConfig
	clk    clock.Clock
	logger logging.Logger

	keys     chan Key
	readDone chan struct{}
	fd       int
	oldState *term.State

	mu          sync.Mutex
	lastPreview time.Time
	shown       map[string]bool

	closeOnce sync.Once
	closeErr  error
}

// NewTerminal returns a terminal display reading keystrokes from cfg.Input.
func NewTerminal(cfg TerminalConfig, logger logging.Logger) (*Terminal, error) {
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.PreviewWidth < 0 {
		return nil, errors.Errorf("preview width must not be negative, got %d", cfg.PreviewWidth)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	t := &Terminal{
		cfg:      cfg,
		clk:      clk,
		logger:   logger,
		keys:     make(chan Key, 16),
		readDone: make(chan struct{}),
		fd:       -1,
		shown:    map[string]bool{},
	}

	if f, ok := cfg.Input.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		oldState, err := term.MakeRaw(t.fd)
		if err != nil {
			return nil, errors.Wrap(err, "cannot put terminal in raw mode")
		}
		t.oldState = oldState
	}

	raw := make(chan byte, 64)
	utils.PanicCapturingGo(func() { t.readBytes(raw) })
	utils.PanicCapturingGo(func() { t.parseKeys(raw) })
	return t, nil
}

// readBytes runs until the input ends. A blocked read cannot be interrupted, so Close does not
// wait for it.
func (t *Terminal) readBytes(raw chan<- byte) {
	defer close(raw)
	in := bufio.NewReader(t.cfg.Input)
	for {
		b, err := in.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debugw("stopped reading keys", "error", err)
			}
			return
		}
		raw <- b
	}
}

// parseKeys turns input bytes into keys. Escape sequences sent by arrow, function and editing keys
// are dropped; only an escape byte on its own is KeyEscape.
func (t *Terminal) parseKeys(raw <-chan byte) {
	defer close(t.readDone)
	for b := range raw {
		if b != byte(KeyEscape) {
			t.push(b)
			continue
		}
		for {
			next, ok := t.nextByte(raw)
			if !ok {
				t.push(byte(KeyEscape))
				break
			}
			if next == '[' || next == 'O' {
				t.skipSequence(raw, next)
				break
			}
			t.push(byte(KeyEscape))
			if next != byte(KeyEscape) {
				t.push(next)
				break
			}
		}
	}
}

// nextByte waits briefly for the byte following an escape.
func (t *Terminal) nextByte(raw <-chan byte) (byte, bool) {
	timer := t.clk.Timer(escapeSequenceTimeout)
	defer timer.Stop()
	select {
	case b, ok := <-raw:
		return b, ok
	case <-timer.C:
		return 0, false
	}
}

// skipSequence consumes the rest of an SS3 (ESC O x) or CSI (ESC [ params final) sequence.
func (t *Terminal) skipSequence(raw <-chan byte, intro byte) {
	if intro == 'O' {
		t.nextByte(raw)
		return
	}
	for {
		b, ok := t.nextByte(raw)
		if !ok || b < 0x20 || b > 0x3f {
			return
		}
	}
}

func (t *Terminal) push(b byte) {
	k := Key(b)
	// raw mode swallows ctrl-c, treat it like escape
	if b == keyInterrupt {
		k = KeyEscape
	}
	select {
	case t.keys <- k:
	default:
		t.logger.Debugw("dropping keystroke, too many pending", "key", k.String())
	}
}

// PollKey returns the next keystroke, or KeyNone if none arrives within timeout.
func (t *Terminal) PollKey(ctx context.Context, timeout time.Duration) (Key, error) {
	select {
	case k := <-t.keys:
		return k, nil
	default:
	}
	if timeout <= 0 {
		return KeyNone, ctx.Err()
	}
	timer := t.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return KeyNone, ctx.Err()
	case k := <-t.keys:
		return k, nil
	case <-timer.C:
		return KeyNone, nil
	}
}

// Show writes the image to the preview file, at most once per preview interval.
func (t *Terminal) Show(window string, img image.Image) error {
	if t.cfg.PreviewPath == "" || img == nil {
		return nil
	}
	t.mu.Lock()
	now := t.clk.Now()
	if !t.lastPreview.IsZero() && now.Sub(t.lastPreview) < t.cfg.PreviewInterval {
		t.mu.Unlock()
		return nil
	}
	t.lastPreview = now
	first := !t.shown[window]
	t.shown[window] = true
	t.mu.Unlock()

	if first {
		t.logger.Infow("showing preview", "window", window, "path", t.cfg.PreviewPath)
	}
	if w := t.cfg.PreviewWidth; w > 0 && img.Bounds().Dx() > w {
		img = imaging.Resize(img, w, 0, imaging.Linear)
	}
	return writeJPEGAtomically(t.cfg.PreviewPath, img)
}

// writeJPEGAtomically writes next to fn and renames, so viewers never see a partial file.
func writeJPEGAtomically(fn string, img image.Image) (err error) {
	f, err := os.CreateTemp(filepath.Dir(fn), "."+filepath.Base(fn)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			utils.UncheckedError(os.Remove(f.Name()))
		}
	}()
	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return multierr.Combine(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), fn)
}

// Close restores the terminal.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		if t.oldState != nil {
			t.closeErr = term.Restore(t.fd, t.oldState)
		}
	})
	return t.closeErr
}

// RawMode reports whether the input terminal was put in raw mode.
func (t *Terminal) RawMode() bool {
	return t.oldState != nil
}
