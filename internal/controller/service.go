package controller

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"strings"
	"time"

	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
	"github.com/dgnsrekt/viewcast/internal/host"
	"github.com/dgnsrekt/viewcast/internal/snapshot"
	"github.com/dgnsrekt/viewcast/internal/stream"
	"github.com/dgnsrekt/viewcast/internal/tabs"
	"github.com/google/uuid"
)

// Service wraps the running host with snapshot persistence. It is the
// concrete implementation behind the HTTP layer's Service interface.
type Service struct {
	host  *host.Host
	snaps *snapshot.Store
}

func NewService(h *host.Host, snaps *snapshot.Store) *Service {
	return &Service{host: h, snaps: snaps}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &errcode.CodedError{Code: errcode.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// --- Host delegation ---

func (s *Service) Kind() backend.Kind {
	return s.host.Kind()
}

func (s *Service) Stream(ctx context.Context) (stream.Payload, error) {
	return s.host.Stream(ctx)
}

func (s *Service) Navigate(ctx context.Context, tabID int64, rawURL string) (string, error) {
	return s.host.Navigate(ctx, tabID, rawURL)
}

func (s *Service) NavigateActive(ctx context.Context, rawURL string) (string, error) {
	return s.host.NavigateActive(ctx, rawURL)
}

func (s *Service) CurrentURL(tabID int64) (string, error) {
	return s.host.CurrentURL(tabID)
}

func (s *Service) EngineURL(ctx context.Context, tabID int64) (string, error) {
	return s.host.EngineURL(ctx, tabID)
}

func (s *Service) Tabs() []tabs.Tab {
	return s.host.Tabs()
}

func (s *Service) ActiveTab() (tabs.Tab, bool) {
	return s.host.ActiveTab()
}

func (s *Service) OpenTab(ctx context.Context, rawURL string) (int64, error) {
	return s.host.OpenTab(ctx, rawURL)
}

func (s *Service) CloseTab(ctx context.Context, tabID int64) error {
	return s.host.CloseTab(ctx, tabID)
}

func (s *Service) SwitchTab(ctx context.Context, tabID int64) error {
	return s.host.SwitchTab(ctx, tabID)
}

// --- Snapshot methods ---

// TakeSnapshot captures the active tab and persists the frame with tab
// metadata attached. Dimensions are read from the encoded image header;
// a frame that will not decode still gets stored.
func (s *Service) TakeSnapshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error) {
	frame, err := s.host.Capture(ctx)
	if err != nil {
		return snapshot.SnapshotMeta{}, err
	}

	meta := snapshot.SnapshotMeta{
		ID:        uuid.New().String(),
		Backend:   string(s.host.Kind()),
		Format:    frame.Format,
		SizeBytes: len(frame.Data),
		CreatedAt: time.Now().UTC(),
		Notes:     strings.TrimSpace(notes),
	}
	if active, ok := s.host.ActiveTab(); ok {
		meta.TabID = active.ID
		meta.URL = active.URL
		meta.Title = active.Title
	}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}

	if err := s.snaps.Save(meta, frame.Data); err != nil {
		return snapshot.SnapshotMeta{}, &errcode.CodedError{Code: errcode.CodeInternal, Message: fmt.Sprintf("save snapshot: %v", err)}
	}

	return meta, nil
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error) {
	return s.snaps.List()
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return snapshot.SnapshotMeta{}, err
	}

	meta, err := s.snaps.Get(strings.TrimSpace(id))
	if err != nil {
		return snapshot.SnapshotMeta{}, &errcode.CodedError{Code: errcode.CodeSnapshotNotFound, Message: err.Error()}
	}
	return meta, nil
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return nil, "", err
	}

	data, format, err := s.snaps.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", &errcode.CodedError{Code: errcode.CodeSnapshotNotFound, Message: err.Error()}
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return err
	}

	if err := s.snaps.Delete(strings.TrimSpace(id)); err != nil {
		return &errcode.CodedError{Code: errcode.CodeSnapshotNotFound, Message: err.Error()}
	}
	return nil
}
