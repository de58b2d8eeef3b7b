// Package display shows previews to the operator and reads their keystrokes.
package display

import (
	"context"
	"image"
	"time"
)

// Key is a single keystroke.
type Key byte

// Keys the capture loop reacts to.
const (
	KeyNone   Key = 0
	KeyEscape Key = 27
	KeySave   Key = 's'
)

func (k Key) String() string {
	switch k {
	case KeyNone:
		return "none"
	case KeyEscape:
		return "esc"
	default:
		return string(rune(k))
	}
}

// A Display shows images in named windows and reports keystrokes.
type Display interface {
	// Show replaces the image of a window.
	Show(window string, img image.Image) error
	// PollKey waits up to timeout for a keystroke. No keystroke returns KeyNone.
	PollKey(ctx context.Context, timeout time.Duration) (Key, error)
	// Close releases the display. It is safe to call more than once.
	Close() error
}
