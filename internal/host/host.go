// Package host routes every backend call through a single owner
// goroutine and keeps the tab store consistent with the engine.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
	"github.com/dgnsrekt/viewcast/internal/stream"
	"github.com/dgnsrekt/viewcast/internal/tabs"
)

const (
	// DefaultCallTimeout bounds a single backend call on the owner loop.
	DefaultCallTimeout = 10 * time.Second

	defaultQueueSize = 64

	// waitGrace keeps a waiter alive slightly past the loop-side timeout
	// so it receives the loop's coded error instead of racing it.
	waitGrace = time.Second
)

// Toolbar actions posted by the in-page script.
const (
	ActionNavigate   = "navigate"
	ActionNewTab     = "newTab"
	ActionCloseTab   = "closeTab"
	ActionSwitchTab  = "switchTab"
	ActionPageLoaded = "pageLoaded"
)

// Command is an inbound tab or navigation request from the toolbar
// channel. It carries the same shapes as the HTTP surface.
type Command struct {
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
	TabID  int64  `json:"tab_id,omitempty"`
	Title  string `json:"title,omitempty"`
}

type request struct {
	op    func(ctx context.Context) (any, error)
	reply chan result
}

type result struct {
	value any
	err   error
}

// tabStater reports the engine's view of per-tab URL and title, used to
// reconcile the store after page loads.
type tabStater interface {
	TabStates(ctx context.Context) ([]backend.TabState, error)
}

// loadNotifier emits tab ids whose page finished loading.
type loadNotifier interface {
	LoadEvents() <-chan int64
}

// Host owns the backend. Every backend call funnels through one
// goroutine so captures and navigations never interleave and run in
// arrival order. Tab store reads stay lock-based and never touch the
// loop.
type Host struct {
	backend backend.Backend
	store   *tabs.Store

	callTimeout time.Duration
	requests    chan request

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Options tune the owner loop. Zero values pick defaults.
type Options struct {
	CallTimeout time.Duration
	QueueSize   int
}

func New(b backend.Backend, store *tabs.Store, opts Options) *Host {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		backend:     b,
		store:       store,
		callTimeout: opts.CallTimeout,
		requests:    make(chan request, opts.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go h.loop()
	if ln, ok := b.(loadNotifier); ok {
		go h.reconcileLoop(ln.LoadEvents())
	}
	return h
}

func (h *Host) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.drain()
			return
		case req := <-h.requests:
			ctx, cancel := context.WithTimeout(h.ctx, h.callTimeout)
			value, err := req.op(ctx)
			cancel()
			req.reply <- result{value: value, err: err}
		}
	}
}

func (h *Host) drain() {
	for {
		select {
		case req := <-h.requests:
			req.reply <- result{err: errcode.New(errcode.CodeBackendUnavailable, "host is shutting down", nil)}
		default:
			return
		}
	}
}

// do submits an op to the owner loop and awaits its result. The wait is
// bounded; an in-flight backend call is never cancelled by the caller
// going away.
func (h *Host) do(ctx context.Context, timeoutCode string, op func(context.Context) (any, error)) (any, error) {
	req := request{op: op, reply: make(chan result, 1)}

	timer := time.NewTimer(h.callTimeout + waitGrace)
	defer timer.Stop()

	select {
	case h.requests <- req:
	case <-ctx.Done():
		return nil, errcode.New(timeoutCode, "request abandoned before reaching the backend", ctx.Err())
	case <-h.ctx.Done():
		return nil, errcode.New(errcode.CodeBackendUnavailable, "host is shut down", nil)
	case <-timer.C:
		return nil, errcode.New(timeoutCode, "backend queue is saturated", nil)
	}

	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, errcode.New(timeoutCode, "request abandoned while awaiting the backend", ctx.Err())
	case <-timer.C:
		return nil, errcode.New(timeoutCode, "backend did not respond in time", nil)
	}
}

// Kind reports which backend the host was built around.
func (h *Host) Kind() backend.Kind { return h.backend.Kind() }

// Tabs returns an ordered copy of the tab set.
func (h *Host) Tabs() []tabs.Tab { return h.store.Snapshot() }

// ActiveTab returns the active tab when one exists.
func (h *Host) ActiveTab() (tabs.Tab, bool) { return h.store.Active() }

// CurrentURL reports the stored URL for a tab. The store is
// authoritative between loads.
func (h *Host) CurrentURL(tabID int64) (string, error) {
	tab, ok := h.store.Get(tabID)
	if !ok {
		return "", errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", tabID), nil)
	}
	return tab.URL, nil
}

// EngineURL asks the engine for a tab's rendered location, bypassing the
// optimistic store value.
func (h *Host) EngineURL(ctx context.Context, tabID int64) (string, error) {
	if _, ok := h.store.Get(tabID); !ok {
		return "", errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", tabID), nil)
	}
	value, err := h.do(ctx, errcode.CodeBackendUnavailable, func(ctx context.Context) (any, error) {
		return h.backend.CurrentURL(ctx, tabID)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Stream captures the active tab and encodes the live payload.
func (h *Host) Stream(ctx context.Context) (stream.Payload, error) {
	value, err := h.do(ctx, errcode.CodeCaptureTimeout, func(ctx context.Context) (any, error) {
		frame, err := h.backend.Capture(ctx)
		if err != nil {
			return nil, captureError(err)
		}
		url := ""
		if active, ok := h.store.Active(); ok {
			url = active.URL
		}
		return stream.Encode(frame, url), nil
	})
	if err != nil {
		return stream.Payload{}, err
	}
	return value.(stream.Payload), nil
}

// Capture grabs a frame without wrapping it for the wire.
func (h *Host) Capture(ctx context.Context) (*backend.Frame, error) {
	value, err := h.do(ctx, errcode.CodeCaptureTimeout, func(ctx context.Context) (any, error) {
		frame, err := h.backend.Capture(ctx)
		if err != nil {
			return nil, captureError(err)
		}
		return frame, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*backend.Frame), nil
}

// Navigate validates the URL, records it optimistically, then drives the
// engine. The stored URL reflects the request, not the rendered page;
// load reconciliation corrects it once the engine reports in.
func (h *Host) Navigate(ctx context.Context, tabID int64, rawURL string) (string, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return "", err
	}
	if _, err := h.do(ctx, errcode.CodeBackendUnavailable, h.navigateOp(tabID, target, false)); err != nil {
		return "", err
	}
	return target, nil
}

// NavigateActive drives the active tab, the shape served by the HTTP
// navigate route.
func (h *Host) NavigateActive(ctx context.Context, rawURL string) (string, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return "", err
	}
	if _, err := h.do(ctx, errcode.CodeBackendUnavailable, h.navigateOp(0, target, true)); err != nil {
		return "", err
	}
	return target, nil
}

func (h *Host) navigateOp(tabID int64, target string, resolveActive bool) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		id := tabID
		if resolveActive {
			active, ok := h.store.Active()
			if !ok {
				return nil, errcode.New(errcode.CodeUnknownTab, "no active tab", nil)
			}
			id = active.ID
		}
		if err := h.store.Update(id, &target, nil); err != nil {
			return nil, err
		}
		if err := h.backend.Navigate(ctx, id, target); err != nil {
			return nil, navError(err)
		}
		return nil, nil
	}
}

// OpenTab creates a tab, points the engine at it and makes it active.
// An empty url opens the home page.
func (h *Host) OpenTab(ctx context.Context, rawURL string) (int64, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = "https://www.google.com"
	}
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return 0, err
	}
	value, err := h.do(ctx, errcode.CodeBackendUnavailable, func(ctx context.Context) (any, error) {
		id := h.store.Create(target)
		if err := h.backend.OpenTab(ctx, id, target); err != nil {
			if closeErr := h.store.Close(id); closeErr != nil {
				slog.Warn("host rollback of failed tab open", "tab_id", id, "error", closeErr)
			}
			return nil, navError(err)
		}
		if err := h.backend.ActivateTab(ctx, id, target); err != nil {
			slog.Warn("host activate after open failed", "tab_id", id, "error", err)
		}
		if err := h.store.SwitchActive(id); err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

// CloseTab closes a tab, refusing the last one, and re-points the engine
// at whichever neighbor became active.
func (h *Host) CloseTab(ctx context.Context, tabID int64) error {
	_, err := h.do(ctx, errcode.CodeBackendUnavailable, func(ctx context.Context) (any, error) {
		if _, ok := h.store.Get(tabID); !ok {
			return nil, errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", tabID), nil)
		}
		if h.store.Count() == 1 {
			return nil, errcode.New(errcode.CodeLastTab, "cannot close the last tab", nil)
		}
		if err := h.backend.CloseTab(ctx, tabID); err != nil {
			return nil, navError(err)
		}
		if err := h.store.Close(tabID); err != nil {
			return nil, err
		}
		if active, ok := h.store.Active(); ok {
			if err := h.backend.ActivateTab(ctx, active.ID, active.URL); err != nil {
				slog.Warn("host activate after close failed", "tab_id", active.ID, "error", err)
			}
		}
		return nil, nil
	})
	return err
}

// SwitchTab makes the tab active in both the engine and the store.
func (h *Host) SwitchTab(ctx context.Context, tabID int64) error {
	_, err := h.do(ctx, errcode.CodeBackendUnavailable, func(ctx context.Context) (any, error) {
		tab, ok := h.store.Get(tabID)
		if !ok {
			return nil, errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", tabID), nil)
		}
		if err := h.backend.ActivateTab(ctx, tab.ID, tab.URL); err != nil {
			return nil, navError(err)
		}
		return nil, h.store.SwitchActive(tab.ID)
	})
	return err
}

// Bootstrap seeds the store with the start tab and points the engine at
// it. Called once before the HTTP server starts; a failure here is fatal
// to startup.
func (h *Host) Bootstrap(ctx context.Context, startURL string) (int64, error) {
	target, err := NormalizeURL(startURL)
	if err != nil {
		return 0, err
	}
	value, err := h.do(ctx, errcode.CodeBackendUnavailable, func(ctx context.Context) (any, error) {
		id := h.store.Create(target)
		if err := h.backend.OpenTab(ctx, id, target); err != nil {
			return nil, navError(err)
		}
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

// SubmitCommand routes a toolbar message through the same paths as the
// HTTP surface.
func (h *Host) SubmitCommand(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionNavigate:
		target, err := NormalizeURL(cmd.URL)
		if err != nil {
			return err
		}
		_, err = h.do(ctx, errcode.CodeBackendUnavailable, h.navigateOp(cmd.TabID, target, cmd.TabID == 0))
		return err
	case ActionNewTab:
		_, err := h.OpenTab(ctx, cmd.URL)
		return err
	case ActionCloseTab:
		return h.CloseTab(ctx, cmd.TabID)
	case ActionSwitchTab:
		return h.SwitchTab(ctx, cmd.TabID)
	case ActionPageLoaded:
		return h.pageLoaded(cmd)
	default:
		return errcode.New(errcode.CodeValidation, fmt.Sprintf("unknown toolbar action: %s", cmd.Action), nil)
	}
}

// pageLoaded folds the toolbar's load report into the store. No backend
// call is involved so it skips the owner loop; the store locks itself.
func (h *Host) pageLoaded(cmd Command) error {
	id := cmd.TabID
	if id == 0 {
		active, ok := h.store.Active()
		if !ok {
			return nil
		}
		id = active.ID
	}
	var url, title *string
	if cmd.URL != "" {
		url = &cmd.URL
	}
	if cmd.Title != "" {
		title = &cmd.Title
	}
	if url == nil && title == nil {
		return nil
	}
	return h.store.Update(id, url, title)
}

// reconcileLoop folds engine load events back into the store so the
// optimistic URL converges on what actually rendered.
func (h *Host) reconcileLoop(events <-chan int64) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case tabID, ok := <-events:
			if !ok {
				return
			}
			h.reconcile(tabID)
		}
	}
}

func (h *Host) reconcile(tabID int64) {
	ts, ok := h.backend.(tabStater)
	if !ok {
		return
	}
	value, err := h.do(h.ctx, errcode.CodeBackendUnavailable, func(ctx context.Context) (any, error) {
		return ts.TabStates(ctx)
	})
	if err != nil {
		slog.Debug("host tab state reconcile failed", "tab_id", tabID, "error", err)
		return
	}
	for _, st := range value.([]backend.TabState) {
		u, t := st.URL, st.Title
		var url, title *string
		if u != "" {
			url = &u
		}
		if t != "" {
			title = &t
		}
		if url == nil && title == nil {
			continue
		}
		if err := h.store.Update(st.TabID, url, title); err != nil {
			slog.Debug("host tab state update skipped", "tab_id", st.TabID, "error", err)
		}
	}
}

// Close stops the owner loop and releases the backend.
func (h *Host) Close() error {
	h.cancel()
	<-h.done
	return h.backend.Close()
}

// captureError folds raw transport failures into the capture error
// contract.
func captureError(err error) error {
	if errcode.AsCoded(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.New(errcode.CodeCaptureTimeout, "capture timed out", err)
	}
	return errcode.New(errcode.CodeBackendUnavailable, "capture failed", err)
}

// navError folds raw transport failures into the navigation error
// contract.
func navError(err error) error {
	if errcode.AsCoded(err) != nil {
		return err
	}
	return errcode.New(errcode.CodeBackendUnavailable, "backend call failed", err)
}
