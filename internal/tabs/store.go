package tabs

import (
	"fmt"
	"sync"

	"github.com/dgnsrekt/viewcast/internal/errcode"
)

// Tab is one navigable unit with its own URL, title, and active flag.
type Tab struct {
	ID     int64  `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"is_active"`
}

// Store is the in-memory tab registry. It owns all Tab values; callers
// only see copies. Invariants: at least one tab exists once seeded, and
// exactly one tab is active at any time.
type Store struct {
	mu     sync.Mutex
	tabs   []*Tab
	nextID int64
}

// NewStore creates an empty store. The first Create seeds the initial tab.
func NewStore() *Store {
	return &Store{nextID: 1}
}

// Create appends a tab for url and returns its id. The first tab created
// becomes active.
func (s *Store) Create(url string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	tab := &Tab{ID: id, URL: url, Title: url}
	if len(s.tabs) == 0 {
		tab.Active = true
	}
	s.tabs = append(s.tabs, tab)
	return id
}

// Close removes the tab. Closing the last remaining tab is refused so the
// set never goes empty. Closing the active tab activates the neighbor at
// the closed index (or the new last tab when the closed one was last).
func (s *Store) Close(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", id), nil)
	}
	if len(s.tabs) == 1 {
		return errcode.New(errcode.CodeLastTab, "cannot close the last tab", nil)
	}

	wasActive := s.tabs[idx].Active
	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)

	if wasActive {
		next := idx
		if next >= len(s.tabs) {
			next = len(s.tabs) - 1
		}
		s.tabs[next].Active = true
	}
	return nil
}

// SwitchActive moves the active flag to the given tab.
func (s *Store) SwitchActive(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", id), nil)
	}
	for _, t := range s.tabs {
		t.Active = false
	}
	s.tabs[idx].Active = true
	return nil
}

// Update sets the tab's url and/or title. A nil field leaves the current
// value unchanged.
func (s *Store) Update(id int64, url, title *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return errcode.New(errcode.CodeUnknownTab, fmt.Sprintf("tab not found: %d", id), nil)
	}
	if url != nil {
		s.tabs[idx].URL = *url
	}
	if title != nil {
		s.tabs[idx].Title = *title
	}
	return nil
}

// Snapshot returns the tabs in creation order. The copies never expose a
// tab mid-mutation.
func (s *Store) Snapshot() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, *t)
	}
	return out
}

// Active returns a copy of the active tab.
func (s *Store) Active() (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tabs {
		if t.Active {
			return *t, true
		}
	}
	return Tab{}, false
}

// Get returns a copy of the tab with the given id.
func (s *Store) Get(id int64) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Tab{}, false
	}
	return *s.tabs[idx], true
}

// Count reports the number of open tabs.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

func (s *Store) indexLocked(id int64) int {
	for i, t := range s.tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}
