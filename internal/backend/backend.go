package backend

import (
	"context"
	"time"
)

// Kind identifies which rendering backend was selected at startup.
type Kind string

const (
	KindNative   Kind = "native"
	KindHeadless Kind = "headless"
)

// JPEGQuality is the fixed compression level applied to captured frames.
// The stream favors small payloads over fidelity; this is not configurable
// per request.
const JPEGQuality = 80

// Frame is a point-in-time capture of the active tab's rendered output.
// Data holds already-encoded image bytes (JPEG for both backends). Frames
// are produced on demand and never cached; a failed capture surfaces an
// error instead of a stale frame.
type Frame struct {
	Data       []byte
	Format     string
	CapturedAt time.Time
}

// TabState is a backend-side view of one tab, used to reconcile the tab
// store with what the engine actually rendered.
type TabState struct {
	TabID int64
	URL   string
	Title string
}

// Backend abstracts the two rendering engines behind one control surface.
// All methods are invoked from a single owner goroutine; implementations
// do not need internal locking for their tab bookkeeping. Calls must
// honor ctx deadlines: the owner bounds every call so a stuck engine
// cannot wedge the request loop.
//
// Errors are *errcode.CodedError values: CodeBackendUnavailable when the
// engine process or window is gone, CodeCaptureTimeout when the engine
// did not answer a capture in time, CodeUnknownTab for unmapped tab ids.
type Backend interface {
	Kind() Kind

	// Capture grabs the active tab's current pixels as an encoded frame.
	Capture(ctx context.Context) (*Frame, error)

	// Navigate loads url in the given tab. It returns once the load is
	// requested; render completion is asynchronous.
	Navigate(ctx context.Context, tabID int64, url string) error

	// CurrentURL reports the engine's current location for the tab.
	CurrentURL(ctx context.Context, tabID int64) (string, error)

	// OpenTab materializes a new tab for an id allocated by the store.
	OpenTab(ctx context.Context, tabID int64, url string) error

	// CloseTab tears down the tab's engine resources.
	CloseTab(ctx context.Context, tabID int64) error

	// ActivateTab makes the tab the rendered one. url is the tab's last
	// known location, for engines that render a single surface.
	ActivateTab(ctx context.Context, tabID int64, url string) error

	Close() error
}
