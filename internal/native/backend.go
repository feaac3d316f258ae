// Package native renders through a real window and captures frames by
// grabbing the screen region the window occupies. One view serves every
// tab; switching tabs loads that tab's URL into the view.
package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
)

// View is the slice of the window the backend drives. Calls must be safe
// from any goroutine; implementations dispatch onto the UI thread.
type View interface {
	LoadURL(url string)
	Bounds() (image.Rectangle, bool)
}

// Grabber captures the screen pixels inside rect.
type Grabber func(rect image.Rectangle) (*image.RGBA, error)

// Backend implements backend.Backend over a native view. Whatever is on
// screen inside the window's bounds is the frame; occlusion is not
// detectable and captures as-is.
type Backend struct {
	view    View
	grab    Grabber
	quality int

	mu     sync.Mutex
	urls   map[int64]string
	active int64
}

var _ backend.Backend = (*Backend)(nil)

// New builds the backend around a view. A nil grabber uses the display
// grab of the primary screen region.
func New(view View, grab Grabber) *Backend {
	if grab == nil {
		grab = func(rect image.Rectangle) (*image.RGBA, error) {
			return screenshot.CaptureRect(rect)
		}
	}
	return &Backend{
		view:    view,
		grab:    grab,
		quality: backend.JPEGQuality,
		urls:    make(map[int64]string),
	}
}

func (b *Backend) Kind() backend.Kind { return backend.KindNative }

// Capture grabs the window region and encodes it as JPEG.
func (b *Backend) Capture(ctx context.Context) (*backend.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, errcode.New(errcode.CodeCaptureTimeout, "capture timed out", ctx.Err())
	default:
	}

	rect, ok := b.view.Bounds()
	if !ok || rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, errcode.New(errcode.CodeBackendUnavailable, "window is not visible", nil)
	}

	img, err := b.grab(rect)
	if err != nil {
		return nil, errcode.New(errcode.CodeBackendUnavailable, "screen grab failed", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return nil, errcode.New(errcode.CodeInternal, "frame encode failed", err)
	}
	return &backend.Frame{Data: buf.Bytes(), Format: "jpeg", CapturedAt: time.Now()}, nil
}

// Navigate records the tab's URL and, when the tab is showing, loads it
// into the view. The call returns once the load is requested.
func (b *Backend) Navigate(ctx context.Context, tabID int64, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.urls[tabID]; !ok {
		return errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("no view state for tab %d", tabID), nil)
	}
	b.urls[tabID] = url
	if b.active == tabID {
		b.view.LoadURL(url)
	}
	return nil
}

// CurrentURL reports the URL last loaded for the tab.
func (b *Backend) CurrentURL(ctx context.Context, tabID int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	url, ok := b.urls[tabID]
	if !ok {
		return "", errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("no view state for tab %d", tabID), nil)
	}
	return url, nil
}

// OpenTab registers a virtual tab. Only the first one loads immediately;
// activation loads the rest.
func (b *Backend) OpenTab(ctx context.Context, tabID int64, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	first := len(b.urls) == 0
	b.urls[tabID] = url
	if first {
		b.active = tabID
		b.view.LoadURL(url)
	}
	return nil
}

// CloseTab forgets the virtual tab. The view keeps showing the old page
// until the neighbor tab is activated.
func (b *Backend) CloseTab(ctx context.Context, tabID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.urls[tabID]; !ok {
		return errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("no view state for tab %d", tabID), nil)
	}
	delete(b.urls, tabID)
	if b.active == tabID {
		b.active = 0
	}
	return nil
}

// ActivateTab shows the tab by loading its recorded URL into the view.
func (b *Backend) ActivateTab(ctx context.Context, tabID int64, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.urls[tabID]
	if !ok {
		return errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("no view state for tab %d", tabID), nil)
	}
	if b.active == tabID {
		return nil
	}
	b.active = tabID
	b.view.LoadURL(stored)
	return nil
}

func (b *Backend) Close() error { return nil }
