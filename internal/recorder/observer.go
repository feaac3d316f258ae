package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/dgnsrekt/viewcast/internal/config"
	"github.com/dgnsrekt/viewcast/internal/snapshot"
)

// Observer attaches to browser tabs over CDP and journals their activity.
// It only enables event domains and reads; pages are never navigated,
// reloaded, or mutated.
type Observer struct {
	cfg      *config.RecorderConfig
	journals *Journals
	snaps    *snapshot.Store

	allocCtx    context.Context
	allocCancel context.CancelFunc

	tabs   map[target.ID]*tabSession
	tabsMu sync.RWMutex
	done   chan struct{}
}

type tabSession struct {
	id     target.ID
	short  string
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	url string
}

func (s *tabSession) setURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

func (s *tabSession) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// NewObserver creates an observer. A nil snaps store disables periodic
// frame captures.
func NewObserver(cfg *config.RecorderConfig, journals *Journals, snaps *snapshot.Store) *Observer {
	return &Observer{
		cfg:      cfg,
		journals: journals,
		snaps:    snaps,
		tabs:     make(map[target.ID]*tabSession),
		done:     make(chan struct{}),
	}
}

// Connect attaches to every page target matching the URL filter. At least
// one tab must match.
func (o *Observer) Connect(ctx context.Context) error {
	_ = ctx
	cdpURL := o.cfg.CDPURL()
	slog.Info("connecting to browser", "url", cdpURL)

	o.allocCtx, o.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(o.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}

	slog.Info("found browser targets", "count", len(targets))

	attachedCount := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !o.matchesTabURL(t.URL) {
			slog.Debug("skipping tab (url filter)", "url", t.URL)
			continue
		}
		if err := o.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("failed to attach to tab", "target_id", t.TargetID, "url", t.URL, "error", err)
			continue
		}
		attachedCount++
	}

	if attachedCount == 0 {
		return fmt.Errorf("no tabs found matching RECORDER_TAB_URL_FILTER=%q", o.cfg.TabURLFilter)
	}

	slog.Info("attached to tabs", "count", attachedCount, "tab_url_filter", o.cfg.TabURLFilter)

	if o.snaps != nil && o.cfg.SnapshotInterval() > 0 {
		go o.snapshotLoop(o.cfg.SnapshotInterval())
	}

	return nil
}

func (o *Observer) attachToTab(targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(o.allocCtx, chromedp.WithTargetID(targetID))
	sess := &tabSession{
		id:     targetID,
		short:  shortTargetID(string(targetID)),
		ctx:    tabCtx,
		cancel: tabCancel,
		url:    url,
	}

	o.tabsMu.Lock()
	o.tabs[targetID] = sess
	o.tabsMu.Unlock()

	// Page events only; cache stays enabled so the tab behaves exactly as
	// it would unobserved.
	actions := []chromedp.Action{page.Enable()}
	if o.cfg.CaptureConsole {
		actions = append(actions, runtime.Enable())
	}
	if o.cfg.CaptureNetwork {
		actions = append(actions, network.Enable())
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		tabCancel()
		o.tabsMu.Lock()
		delete(o.tabs, targetID)
		o.tabsMu.Unlock()
		return fmt.Errorf("failed to enable event domains: %w", err)
	}

	slog.Info("attached to tab", "target_id", targetID, "short_id", sess.short, "url", truncateURL(url))
	chromedp.ListenTarget(tabCtx, o.createEventHandler(sess))

	o.writePage(sess, "attached", url)
	return nil
}

func (o *Observer) createEventHandler(sess *tabSession) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				sess.setURL(e.Frame.URL)
				o.writePage(sess, "navigated", e.Frame.URL)
				slog.Info("tab navigated (full)", "tab_id", sess.short, "url", truncateURL(e.Frame.URL))
			}
		case *page.EventNavigatedWithinDocument:
			sess.setURL(e.URL)
			o.writePage(sess, "navigated_in_page", e.URL)
			slog.Info("tab navigated (SPA)", "tab_id", sess.short, "url", truncateURL(e.URL))
		case *page.EventLoadEventFired:
			o.writePage(sess, "load", sess.currentURL())
		case *runtime.EventConsoleAPICalled:
			o.writeConsole(sess, string(e.Type), consolePreview(e.Args))
		case *runtime.EventExceptionThrown:
			o.writeConsole(sess, "exception", exceptionText(e.ExceptionDetails))
		case *network.EventRequestWillBeSent:
			o.writeNetwork(NetworkEvent{
				TabID:        sess.short,
				Event:        "request",
				RequestID:    string(e.RequestID),
				Method:       e.Request.Method,
				URL:          truncateURL(e.Request.URL),
				ResourceType: string(e.Type),
			})
		case *network.EventResponseReceived:
			o.writeNetwork(NetworkEvent{
				TabID:        sess.short,
				Event:        "response",
				RequestID:    string(e.RequestID),
				URL:          truncateURL(e.Response.URL),
				Status:       int(e.Response.Status),
				MimeType:     e.Response.MimeType,
				ResourceType: string(e.Type),
			})
		case *network.EventLoadingFailed:
			o.writeNetwork(NetworkEvent{
				TabID:        sess.short,
				Event:        "failed",
				RequestID:    string(e.RequestID),
				ResourceType: string(e.Type),
				Error:        e.ErrorText,
			})
		}
	}
}

func (o *Observer) writePage(sess *tabSession, event, url string) {
	record := PageEvent{
		Timestamp: time.Now().UTC(),
		TabID:     sess.short,
		Event:     event,
		URL:       url,
	}
	if err := o.journals.Pages.Write(record); err != nil {
		slog.Debug("page event dropped", "tab_id", sess.short, "event", event, "error", err)
	}
}

func (o *Observer) writeConsole(sess *tabSession, kind, text string) {
	trimmed, truncated, origLen, hash := truncateStringBytes(text, o.cfg.MaxTextBytes)
	record := ConsoleEvent{
		Timestamp: time.Now().UTC(),
		TabID:     sess.short,
		Kind:      kind,
		Text:      trimmed,
	}
	if truncated {
		record.Truncated = true
		record.OriginalSize = origLen
		record.SHA256 = hash
	}
	if err := o.journals.Console.Write(record); err != nil {
		slog.Debug("console event dropped", "tab_id", sess.short, "kind", kind, "error", err)
	}
}

func (o *Observer) writeNetwork(record NetworkEvent) {
	record.Timestamp = time.Now().UTC()
	if err := o.journals.Network.Write(record); err != nil {
		slog.Debug("network event dropped", "tab_id", record.TabID, "event", record.Event, "error", err)
	}
}

func (o *Observer) snapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.captureAll()
		case <-o.done:
			return
		}
	}
}

func (o *Observer) captureAll() {
	o.tabsMu.RLock()
	sessions := make([]*tabSession, 0, len(o.tabs))
	for _, sess := range o.tabs {
		sessions = append(sessions, sess)
	}
	o.tabsMu.RUnlock()

	for _, sess := range sessions {
		o.captureTab(sess)
	}
}

func (o *Observer) captureTab(sess *tabSession) {
	capCtx, cancel := context.WithTimeout(sess.ctx, 15*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(capCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		slog.Warn("periodic capture failed", "tab_id", sess.short, "error", err)
		return
	}

	meta := snapshot.SnapshotMeta{
		ID:        uuid.New().String(),
		URL:       sess.currentURL(),
		Backend:   "recorder",
		Format:    "png",
		SizeBytes: len(buf),
		CreatedAt: time.Now().UTC(),
		Notes:     "recorder target " + sess.short,
	}
	if imgCfg, err := png.DecodeConfig(bytes.NewReader(buf)); err == nil {
		meta.Width = imgCfg.Width
		meta.Height = imgCfg.Height
	}

	if err := o.snaps.Save(meta, buf); err != nil {
		slog.Error("failed to save periodic capture", "tab_id", sess.short, "error", err)
		return
	}
	slog.Debug("periodic capture saved", "tab_id", sess.short, "snapshot_id", meta.ID, "size", len(buf))
}

// Close detaches from all tabs and stops the periodic capture loop.
func (o *Observer) Close() error {
	close(o.done)

	o.tabsMu.Lock()
	o.tabs = make(map[target.ID]*tabSession)
	o.tabsMu.Unlock()

	if o.allocCancel != nil {
		o.allocCancel()
	}

	slog.Info("observer closed")
	return nil
}

// TabCount reports how many tabs the observer is attached to.
func (o *Observer) TabCount() int {
	o.tabsMu.RLock()
	defer o.tabsMu.RUnlock()
	return len(o.tabs)
}

func (o *Observer) matchesTabURL(url string) bool {
	if o.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(o.cfg.TabURLFilter))
}

// consolePreview renders console call arguments as one line. Primitive
// values come through as JSON; objects fall back to their description.
func consolePreview(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		var s string
		if err := json.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
		return string(obj.Value)
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Type)
}

func exceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}

func shortTargetID(targetID string) string {
	if len(targetID) >= 8 {
		return targetID[:8]
	}
	return targetID
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
