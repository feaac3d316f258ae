package host

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
	"github.com/dgnsrekt/viewcast/internal/tabs"
)

type fakeBackend struct {
	mu sync.Mutex

	frameData []byte
	blockNext int // captures that stall until the ctx expires
	navErr    error
	openErr   error

	navigated  []string
	activated  []int64
	closeCalls int

	inFlight    int32
	maxInFlight int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{frameData: []byte{0xff, 0xd8, 0xff, 0xdb}}
}

func (f *fakeBackend) enter() {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
}

func (f *fakeBackend) exit() { atomic.AddInt32(&f.inFlight, -1) }

func (f *fakeBackend) Kind() backend.Kind { return backend.KindHeadless }

func (f *fakeBackend) Capture(ctx context.Context) (*backend.Frame, error) {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	stall := f.blockNext > 0
	if stall {
		f.blockNext--
	}
	data := f.frameData
	f.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(time.Millisecond)
	return &backend.Frame{Data: data, Format: "jpeg", CapturedAt: time.Now()}, nil
}

func (f *fakeBackend) Navigate(ctx context.Context, tabID int64, url string) error {
	f.enter()
	defer f.exit()
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, fmt.Sprintf("%d:%s", tabID, url))
	return nil
}

func (f *fakeBackend) CurrentURL(ctx context.Context, tabID int64) (string, error) {
	return "", nil
}

func (f *fakeBackend) OpenTab(ctx context.Context, tabID int64, url string) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openErr
}

func (f *fakeBackend) CloseTab(ctx context.Context, tabID int64) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeBackend) ActivateTab(ctx context.Context, tabID int64, url string) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, tabID)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) stallCaptures(n int) {
	f.mu.Lock()
	f.blockNext = n
	f.mu.Unlock()
}

func (f *fakeBackend) setNavErr(err error) {
	f.mu.Lock()
	f.navErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) setOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

func (f *fakeBackend) activations() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.activated...)
}

func (f *fakeBackend) closedTabs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeBackend) maxConcurrent() int32 { return atomic.LoadInt32(&f.maxInFlight) }

func newTestHost(t *testing.T, fb backend.Backend) (*Host, *tabs.Store) {
	t.Helper()
	store := tabs.NewStore()
	h := New(fb, store, Options{CallTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = h.Close() })
	if _, err := h.Bootstrap(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Bootstrap() = %v", err)
	}
	return h, store
}

func TestStreamReturnsActiveTabPayload(t *testing.T) {
	fb := newFakeBackend()
	h, _ := newTestHost(t, fb)

	p, err := h.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream() = %v; want nil", err)
	}
	if want := base64.StdEncoding.EncodeToString(fb.frameData); p.Frame != want {
		t.Fatalf("Frame = %q; want %q", p.Frame, want)
	}
	if p.URL != "https://example.com" {
		t.Fatalf("URL = %q; want active tab url", p.URL)
	}
	if p.Timestamp == 0 {
		t.Fatalf("Timestamp = 0; want wall clock")
	}
}

func TestStreamTimeoutTwiceThenRecovers(t *testing.T) {
	fb := newFakeBackend()
	h, _ := newTestHost(t, fb)
	fb.stallCaptures(2)

	for i := 1; i <= 2; i++ {
		_, err := h.Stream(context.Background())
		if !errcode.Is(err, errcode.CodeCaptureTimeout) {
			t.Fatalf("Stream() #%d = %v; want code %q", i, err, errcode.CodeCaptureTimeout)
		}
	}

	p, err := h.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream() after recovery = %v; want nil", err)
	}
	if p.URL != "https://example.com" {
		t.Fatalf("URL = %q after recovery; want active tab url", p.URL)
	}
}

func TestNavigateUpdatesStoreOptimistically(t *testing.T) {
	fb := newFakeBackend()
	h, store := newTestHost(t, fb)

	got, err := h.Navigate(context.Background(), 1, "https://test.com")
	if err != nil {
		t.Fatalf("Navigate() = %v; want nil", err)
	}
	if got != "https://test.com" {
		t.Fatalf("Navigate() = %q; want %q", got, "https://test.com")
	}

	snap := store.Snapshot()
	if len(snap) != 1 || snap[0].URL != "https://test.com" {
		t.Fatalf("Snapshot() = %+v; want tab 1 at https://test.com", snap)
	}
	if navs := fb.navigations(); len(navs) != 1 || navs[0] != "1:https://test.com" {
		t.Fatalf("backend navigations = %v; want one call for tab 1", navs)
	}
}

func TestNavigateInvalidURLLeavesStoreUntouched(t *testing.T) {
	fb := newFakeBackend()
	h, store := newTestHost(t, fb)

	_, err := h.Navigate(context.Background(), 1, "not-a-url")
	if !errcode.Is(err, errcode.CodeInvalidURL) {
		t.Fatalf("Navigate() = %v; want code %q", err, errcode.CodeInvalidURL)
	}
	if tab, _ := store.Get(1); tab.URL != "https://example.com" {
		t.Fatalf("URL = %q after rejected navigate; want original", tab.URL)
	}
	if navs := fb.navigations(); len(navs) != 0 {
		t.Fatalf("backend navigations = %v; want none", navs)
	}
}

func TestNavigateUnknownTab(t *testing.T) {
	fb := newFakeBackend()
	h, _ := newTestHost(t, fb)

	_, err := h.Navigate(context.Background(), 99, "https://test.com")
	if !errcode.Is(err, errcode.CodeUnknownTab) {
		t.Fatalf("Navigate(99) = %v; want code %q", err, errcode.CodeUnknownTab)
	}
	if navs := fb.navigations(); len(navs) != 0 {
		t.Fatalf("backend navigations = %v; want none", navs)
	}
}

func TestNavigateBackendFailureSurfaces(t *testing.T) {
	fb := newFakeBackend()
	h, store := newTestHost(t, fb)
	fb.setNavErr(errors.New("tab crashed"))

	_, err := h.Navigate(context.Background(), 1, "https://test.com")
	if !errcode.Is(err, errcode.CodeBackendUnavailable) {
		t.Fatalf("Navigate() = %v; want code %q", err, errcode.CodeBackendUnavailable)
	}

	// The requested URL stays recorded; load reconciliation corrects it
	// if the engine comes back.
	if tab, _ := store.Get(1); tab.URL != "https://test.com" {
		t.Fatalf("URL = %q; want requested url retained", tab.URL)
	}
}

func TestCurrentURL(t *testing.T) {
	fb := newFakeBackend()
	h, _ := newTestHost(t, fb)

	url, err := h.CurrentURL(1)
	if err != nil || url != "https://example.com" {
		t.Fatalf("CurrentURL(1) = %q, %v; want start url, nil", url, err)
	}
	if _, err := h.CurrentURL(99); !errcode.Is(err, errcode.CodeUnknownTab) {
		t.Fatalf("CurrentURL(99) = %v; want code %q", err, errcode.CodeUnknownTab)
	}
}

func TestOpenTabActivatesAndRollsBackOnFailure(t *testing.T) {
	fb := newFakeBackend()
	h, store := newTestHost(t, fb)

	id, err := h.OpenTab(context.Background(), "https://a.com")
	if err != nil {
		t.Fatalf("OpenTab() = %v; want nil", err)
	}
	if id != 2 {
		t.Fatalf("OpenTab() = %d; want 2", id)
	}
	if active, _ := store.Active(); active.ID != 2 {
		t.Fatalf("Active().ID = %d after open; want 2", active.ID)
	}

	fb.setOpenErr(errors.New("engine refused"))
	if _, err := h.OpenTab(context.Background(), "https://b.com"); !errcode.Is(err, errcode.CodeBackendUnavailable) {
		t.Fatalf("OpenTab() = %v; want code %q", err, errcode.CodeBackendUnavailable)
	}
	if store.Count() != 2 {
		t.Fatalf("Count() = %d after rolled back open; want 2", store.Count())
	}
	if active, _ := store.Active(); active.ID != 2 {
		t.Fatalf("Active().ID = %d after rolled back open; want 2", active.ID)
	}
}

func TestCloseTabRefusesLastAndActivatesNeighbor(t *testing.T) {
	fb := newFakeBackend()
	h, store := newTestHost(t, fb)

	if err := h.CloseTab(context.Background(), 1); !errcode.Is(err, errcode.CodeLastTab) {
		t.Fatalf("CloseTab(sole) = %v; want code %q", err, errcode.CodeLastTab)
	}
	if fb.closedTabs() != 0 {
		t.Fatalf("backend close calls = %d after refusal; want 0", fb.closedTabs())
	}

	second, err := h.OpenTab(context.Background(), "https://a.com")
	if err != nil {
		t.Fatalf("OpenTab() = %v", err)
	}
	third, err := h.OpenTab(context.Background(), "https://b.com")
	if err != nil {
		t.Fatalf("OpenTab() = %v", err)
	}
	if err := h.SwitchTab(context.Background(), second); err != nil {
		t.Fatalf("SwitchTab() = %v", err)
	}

	if err := h.CloseTab(context.Background(), second); err != nil {
		t.Fatalf("CloseTab() = %v", err)
	}
	active, _ := store.Active()
	if active.ID != third {
		t.Fatalf("Active().ID = %d after closing active tab; want %d", active.ID, third)
	}
	acts := fb.activations()
	if len(acts) == 0 || acts[len(acts)-1] != third {
		t.Fatalf("backend activations = %v; want %d last", acts, third)
	}
}

func TestSubmitCommandToolbarFlow(t *testing.T) {
	fb := newFakeBackend()
	h, store := newTestHost(t, fb)

	if err := h.SubmitCommand(context.Background(), Command{Action: ActionNavigate, URL: "weather tomorrow"}); err != nil {
		t.Fatalf("SubmitCommand(navigate) = %v; want nil", err)
	}
	active, _ := store.Active()
	if want := "https://www.google.com/search?q=weather+tomorrow"; active.URL != want {
		t.Fatalf("active URL = %q; want %q", active.URL, want)
	}

	if err := h.SubmitCommand(context.Background(), Command{Action: ActionPageLoaded, Title: "Weather"}); err != nil {
		t.Fatalf("SubmitCommand(pageLoaded) = %v; want nil", err)
	}
	active, _ = store.Active()
	if active.Title != "Weather" {
		t.Fatalf("active Title = %q; want %q", active.Title, "Weather")
	}

	if err := h.SubmitCommand(context.Background(), Command{Action: "explode"}); !errcode.Is(err, errcode.CodeValidation) {
		t.Fatalf("SubmitCommand(explode) = %v; want code %q", err, errcode.CodeValidation)
	}
}

func TestBackendCallsNeverOverlap(t *testing.T) {
	fb := newFakeBackend()
	h, _ := newTestHost(t, fb)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if i%2 == 0 {
					_, _ = h.Stream(context.Background())
				} else {
					_, _ = h.Navigate(context.Background(), 1, "https://test.com")
				}
			}
		}(i)
	}
	wg.Wait()

	if max := fb.maxConcurrent(); max > 1 {
		t.Fatalf("backend saw %d concurrent calls; want serialized access", max)
	}
}

type reportingBackend struct {
	*fakeBackend
	events chan int64
	states []backend.TabState
}

func (r *reportingBackend) LoadEvents() <-chan int64 { return r.events }

func (r *reportingBackend) TabStates(ctx context.Context) ([]backend.TabState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]backend.TabState(nil), r.states...), nil
}

func (r *reportingBackend) setStates(states []backend.TabState) {
	r.mu.Lock()
	r.states = states
	r.mu.Unlock()
}

func TestLoadEventsReconcileStore(t *testing.T) {
	rb := &reportingBackend{fakeBackend: newFakeBackend(), events: make(chan int64, 4)}
	_, store := newTestHost(t, rb)

	rb.setStates([]backend.TabState{{TabID: 1, URL: "https://example.com/landed", Title: "Example"}})
	rb.events <- 1

	deadline := time.Now().Add(2 * time.Second)
	for {
		tab, _ := store.Get(1)
		if tab.URL == "https://example.com/landed" && tab.Title == "Example" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tab = %+v; want reconciled url and title", tab)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
