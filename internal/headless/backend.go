// Package headless drives a remote-debugged browser process as the
// rendering backend. Each tab maps to an engine target with a flat
// session attached on open.
package headless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
)

// Wire is the slice of the devtools connection the backend needs.
// *cdp.Conn satisfies it.
type Wire interface {
	Connect(ctx context.Context) error
	Close()
	AttachToTarget(ctx context.Context, targetID string) (string, error)
	DetachFromTarget(ctx context.Context, sessionID string) error
	CreateTarget(ctx context.Context, url string) (string, error)
	CloseTarget(ctx context.Context, targetID string) error
	ActivateTarget(ctx context.Context, targetID string) error
	Navigate(ctx context.Context, sessionID, url string) error
	Evaluate(ctx context.Context, sessionID, js string) (string, error)
	CaptureScreenshot(ctx context.Context, sessionID, format string, quality int) (string, error)
	EnablePage(ctx context.Context, sessionID string) error
	HandleDialog(ctx context.Context, sessionID string, accept bool) error
	OnEvent(method string, fn func(sessionID string, params json.RawMessage)) func()
	ListTargets(ctx context.Context) ([]*target.Info, error)
}

type tabTarget struct {
	targetID  string
	sessionID string
}

// Backend implements backend.Backend over a devtools wire. Call Start
// before use; the host serializes all other calls.
type Backend struct {
	wire    Wire
	quality int

	mu     sync.Mutex
	tabs   map[int64]*tabTarget
	active int64

	loadCh      chan int64
	unsubLoad   func()
	unsubDialog func()
}

var _ backend.Backend = (*Backend)(nil)

func New(wire Wire) *Backend {
	return &Backend{
		wire:    wire,
		quality: backend.JPEGQuality,
		tabs:    make(map[int64]*tabTarget),
		loadCh:  make(chan int64, 4),
	}
}

// Start connects the wire and subscribes to page lifecycle events.
func (b *Backend) Start(ctx context.Context) error {
	if err := b.wire.Connect(ctx); err != nil {
		return errcode.New(errcode.CodeBackendUnavailable, "devtools connection failed", err)
	}
	b.unsubLoad = b.wire.OnEvent("Page.loadEventFired", b.onLoadEvent)
	b.unsubDialog = b.wire.OnEvent("Page.javascriptDialogOpening", b.onDialog)
	return nil
}

func (b *Backend) Kind() backend.Kind { return backend.KindHeadless }

// Capture screenshots the active tab's page.
func (b *Backend) Capture(ctx context.Context) (*backend.Frame, error) {
	tt, err := b.activeTarget()
	if err != nil {
		return nil, err
	}
	data, err := b.wire.CaptureScreenshot(ctx, tt.sessionID, "jpeg", b.quality)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errcode.New(errcode.CodeCaptureTimeout, "screenshot timed out", err)
		}
		return nil, errcode.New(errcode.CodeBackendUnavailable, "screenshot failed", err)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errcode.New(errcode.CodeCDPError, "screenshot payload is not valid base64", err)
	}
	return &backend.Frame{Data: raw, Format: "jpeg", CapturedAt: time.Now()}, nil
}

// Navigate points the tab's session at the URL. Engine-side load refusals
// (DNS errors, blocked schemes) surface as coded errors.
func (b *Backend) Navigate(ctx context.Context, tabID int64, url string) error {
	tt, err := b.sessionFor(tabID)
	if err != nil {
		return err
	}
	if err := b.wire.Navigate(ctx, tt.sessionID, url); err != nil {
		return errcode.New(errcode.CodeCDPError, fmt.Sprintf("engine navigation failed for tab %d", tabID), err)
	}
	return nil
}

// CurrentURL asks the engine for the tab's rendered location.
func (b *Backend) CurrentURL(ctx context.Context, tabID int64) (string, error) {
	tt, err := b.sessionFor(tabID)
	if err != nil {
		return "", err
	}
	url, err := b.wire.Evaluate(ctx, tt.sessionID, "location.href")
	if err != nil {
		return "", errcode.New(errcode.CodeCDPError, fmt.Sprintf("engine url lookup failed for tab %d", tabID), err)
	}
	return url, nil
}

// OpenTab binds a host tab id to an engine target. The first tab adopts
// the target the browser started with; later tabs create fresh ones.
func (b *Backend) OpenTab(ctx context.Context, tabID int64, url string) error {
	b.mu.Lock()
	first := len(b.tabs) == 0
	b.mu.Unlock()

	targetID := ""
	if first {
		targetID = b.adoptableTarget(ctx)
	}
	created := false
	if targetID == "" {
		tid, err := b.wire.CreateTarget(ctx, url)
		if err != nil {
			return errcode.New(errcode.CodeBackendUnavailable, fmt.Sprintf("engine target create failed for tab %d", tabID), err)
		}
		targetID = tid
		created = true
	}

	sessionID, err := b.wire.AttachToTarget(ctx, targetID)
	if err != nil {
		return errcode.New(errcode.CodeBackendUnavailable, fmt.Sprintf("engine attach failed for tab %d", tabID), err)
	}
	if err := b.wire.EnablePage(ctx, sessionID); err != nil {
		slog.Debug("headless enable page failed", "tab_id", tabID, "error", err)
	}
	if !created {
		if err := b.wire.Navigate(ctx, sessionID, url); err != nil {
			return errcode.New(errcode.CodeCDPError, fmt.Sprintf("engine navigation failed for tab %d", tabID), err)
		}
	}

	b.mu.Lock()
	b.tabs[tabID] = &tabTarget{targetID: targetID, sessionID: sessionID}
	if b.active == 0 {
		b.active = tabID
	}
	b.mu.Unlock()
	return nil
}

// CloseTab closes the tab's engine target and forgets the mapping.
func (b *Backend) CloseTab(ctx context.Context, tabID int64) error {
	tt, err := b.sessionFor(tabID)
	if err != nil {
		return err
	}
	if err := b.wire.CloseTarget(ctx, tt.targetID); err != nil {
		return errcode.New(errcode.CodeCDPError, fmt.Sprintf("engine close failed for tab %d", tabID), err)
	}
	b.mu.Lock()
	delete(b.tabs, tabID)
	if b.active == tabID {
		b.active = 0
	}
	b.mu.Unlock()
	return nil
}

// ActivateTab foregrounds the tab's target and routes captures to it.
func (b *Backend) ActivateTab(ctx context.Context, tabID int64, url string) error {
	tt, err := b.sessionFor(tabID)
	if err != nil {
		return err
	}
	if err := b.wire.ActivateTarget(ctx, tt.targetID); err != nil {
		return errcode.New(errcode.CodeCDPError, fmt.Sprintf("engine activate failed for tab %d", tabID), err)
	}
	b.mu.Lock()
	b.active = tabID
	b.mu.Unlock()
	return nil
}

// TabStates reports the engine's url and title for every owned tab.
func (b *Backend) TabStates(ctx context.Context) ([]backend.TabState, error) {
	targets, err := b.wire.ListTargets(ctx)
	if err != nil {
		return nil, errcode.New(errcode.CodeBackendUnavailable, "target listing failed", err)
	}

	b.mu.Lock()
	byTarget := make(map[string]int64, len(b.tabs))
	for id, tt := range b.tabs {
		byTarget[tt.targetID] = id
	}
	b.mu.Unlock()

	states := make([]backend.TabState, 0, len(byTarget))
	for _, t := range targets {
		if id, ok := byTarget[string(t.TargetID)]; ok {
			states = append(states, backend.TabState{TabID: id, URL: t.URL, Title: t.Title})
		}
	}
	return states, nil
}

// LoadEvents emits tab ids whose page fired its load event.
func (b *Backend) LoadEvents() <-chan int64 { return b.loadCh }

// Close detaches every session best-effort and drops the connection.
func (b *Backend) Close() error {
	if b.unsubLoad != nil {
		b.unsubLoad()
	}
	if b.unsubDialog != nil {
		b.unsubDialog()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.mu.Lock()
	sessions := make([]string, 0, len(b.tabs))
	for _, tt := range b.tabs {
		sessions = append(sessions, tt.sessionID)
	}
	b.mu.Unlock()
	for _, sid := range sessions {
		if err := b.wire.DetachFromTarget(ctx, sid); err != nil {
			slog.Debug("headless detach failed", "session_id", sid, "error", err)
		}
	}

	b.wire.Close()
	return nil
}

// adoptableTarget returns the first page target not yet bound to a tab,
// typically the page the browser opened on launch.
func (b *Backend) adoptableTarget(ctx context.Context) string {
	targets, err := b.wire.ListTargets(ctx)
	if err != nil {
		return ""
	}
	b.mu.Lock()
	owned := make(map[string]bool, len(b.tabs))
	for _, tt := range b.tabs {
		owned[tt.targetID] = true
	}
	b.mu.Unlock()

	for _, t := range targets {
		if t.Type == "page" && !owned[string(t.TargetID)] {
			return string(t.TargetID)
		}
	}
	return ""
}

func (b *Backend) sessionFor(tabID int64) (*tabTarget, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tt, ok := b.tabs[tabID]
	if !ok {
		return nil, errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("no engine target for tab %d", tabID), nil)
	}
	return tt, nil
}

func (b *Backend) activeTarget() (*tabTarget, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tt, ok := b.tabs[b.active]
	if !ok {
		return nil, errcode.New(errcode.CodeBackendUnavailable, "no active engine target", nil)
	}
	return tt, nil
}

func (b *Backend) onLoadEvent(sessionID string, _ json.RawMessage) {
	b.mu.Lock()
	var tabID int64
	for id, tt := range b.tabs {
		if tt.sessionID == sessionID {
			tabID = id
			break
		}
	}
	b.mu.Unlock()
	if tabID == 0 {
		return
	}
	// Coalesced; reconciliation reads every tab on each signal.
	select {
	case b.loadCh <- tabID:
	default:
	}
}

// onDialog auto-accepts JavaScript dialogs so a page alert or
// beforeunload prompt never freezes rendering. The reply arrives on the
// read loop, so the command must not run on it.
func (b *Backend) onDialog(sessionID string, _ json.RawMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.wire.HandleDialog(ctx, sessionID, true); err != nil {
			slog.Debug("headless dialog accept failed", "error", err)
		}
	}()
}
