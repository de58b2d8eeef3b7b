package inject

import (
	"context"
	"image"
	"time"

	"github.com/pcreg/depthcapture/display"
)

// Display is an injected display.
type Display struct {
	display.Display
	ShowFunc    func(window string, img image.Image) error
	PollKeyFunc func(ctx context.Context, timeout time.Duration) (display.Key, error)
	CloseFunc   func() error
}

// Show calls the injected Show or the real version.
func (d *Display) Show(window string, img image.Image) error {
	if d.ShowFunc == nil {
		if d.Display == nil {
			return nil
		}
		return d.Display.Show(window, img)
	}
	return d.ShowFunc(window, img)
}

// PollKey calls the injected PollKey or the real version.
func (d *Display) PollKey(ctx context.Context, timeout time.Duration) (display.Key, error) {
	if d.PollKeyFunc == nil {
		if d.Display == nil {
			return display.KeyNone, nil
		}
		return d.Display.PollKey(ctx, timeout)
	}
	return d.PollKeyFunc(ctx, timeout)
}

// Close calls the injected Close or the real version.
func (d *Display) Close() error {
	if d.CloseFunc == nil {
		if d.Display == nil {
			return nil
		}
		return d.Display.Close()
	}
	return d.CloseFunc()
}
