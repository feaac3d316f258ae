package controller

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
	"github.com/dgnsrekt/viewcast/internal/host"
	"github.com/dgnsrekt/viewcast/internal/snapshot"
	"github.com/dgnsrekt/viewcast/internal/tabs"
)

// stubBackend answers every call with canned data so the host loop can
// run without an engine.
type stubBackend struct {
	frame []byte
}

func (b *stubBackend) Kind() backend.Kind { return backend.KindHeadless }

func (b *stubBackend) Capture(ctx context.Context) (*backend.Frame, error) {
	return &backend.Frame{Data: b.frame, Format: "jpeg", CapturedAt: time.Now()}, nil
}

func (b *stubBackend) Navigate(ctx context.Context, tabID int64, url string) error { return nil }

func (b *stubBackend) CurrentURL(ctx context.Context, tabID int64) (string, error) {
	return "", nil
}

func (b *stubBackend) OpenTab(ctx context.Context, tabID int64, url string) error { return nil }

func (b *stubBackend) CloseTab(ctx context.Context, tabID int64) error { return nil }

func (b *stubBackend) ActivateTab(ctx context.Context, tabID int64, url string) error { return nil }

func (b *stubBackend) Close() error { return nil }

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() failed: %v", err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	snaps, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot.NewStore() = %v; want nil", err)
	}
	h := host.New(&stubBackend{frame: encodeTestJPEG(t, 32, 24)}, tabs.NewStore(), host.Options{CallTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = h.Close() })

	if _, err := h.Bootstrap(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Bootstrap() = %v; want nil", err)
	}
	return NewService(h, snaps)
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("abc-123", "snapshot_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	if err := s.requireNonEmpty("   ", "snapshot_id"); err == nil {
		t.Fatalf("requireNonEmpty() = nil; want validation error")
	} else if got, ok := err.(*errcode.CodedError); !ok {
		t.Fatalf("requireNonEmpty() = %T; want *errcode.CodedError", err)
	} else if got.Code != errcode.CodeValidation {
		t.Fatalf("requireNonEmpty() code = %q; want %q", got.Code, errcode.CodeValidation)
	} else if got.Message != "snapshot_id is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got.Message, "snapshot_id is required")
	}
}

func TestGetSnapshot_RequiresID(t *testing.T) {
	s := &Service{}
	_, err := s.GetSnapshot(context.Background(), "   ")
	if err == nil {
		t.Fatalf("GetSnapshot() = nil; want validation error")
	}
	var got *errcode.CodedError
	if !errors.As(err, &got) {
		t.Fatalf("GetSnapshot() error type = %T; want *errcode.CodedError", err)
	}
	if got.Code != errcode.CodeValidation {
		t.Fatalf("GetSnapshot() code = %q; want %q", got.Code, errcode.CodeValidation)
	}
}

func TestTakeSnapshotPersistsActiveTabMeta(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	meta, err := s.TakeSnapshot(ctx, "  before login  ")
	if err != nil {
		t.Fatalf("TakeSnapshot() = %v; want nil", err)
	}

	if meta.TabID != 1 {
		t.Fatalf("TakeSnapshot() tab_id = %d; want 1", meta.TabID)
	}
	if meta.URL != "https://example.com" {
		t.Fatalf("TakeSnapshot() url = %q; want %q", meta.URL, "https://example.com")
	}
	if meta.Backend != "headless" {
		t.Fatalf("TakeSnapshot() backend = %q; want %q", meta.Backend, "headless")
	}
	if meta.Format != "jpeg" {
		t.Fatalf("TakeSnapshot() format = %q; want %q", meta.Format, "jpeg")
	}
	if meta.Width != 32 || meta.Height != 24 {
		t.Fatalf("TakeSnapshot() dims = %dx%d; want 32x24", meta.Width, meta.Height)
	}
	if meta.Notes != "before login" {
		t.Fatalf("TakeSnapshot() notes = %q; want trimmed", meta.Notes)
	}

	stored, err := s.GetSnapshot(ctx, meta.ID)
	if err != nil {
		t.Fatalf("GetSnapshot() = %v; want nil", err)
	}
	if stored.SizeBytes != meta.SizeBytes {
		t.Fatalf("GetSnapshot() size = %d; want %d", stored.SizeBytes, meta.SizeBytes)
	}

	data, format, err := s.ReadSnapshotImage(ctx, meta.ID)
	if err != nil {
		t.Fatalf("ReadSnapshotImage() = %v; want nil", err)
	}
	if format != "jpeg" || len(data) != meta.SizeBytes {
		t.Fatalf("ReadSnapshotImage() = %d bytes as %q; want %d as jpeg", len(data), format, meta.SizeBytes)
	}
}

func TestSnapshotLookupsMapToNotFound(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	missing := "123e4567-e89b-12d3-a456-426614174999"

	if _, err := s.GetSnapshot(ctx, missing); !errcode.Is(err, errcode.CodeSnapshotNotFound) {
		t.Fatalf("GetSnapshot() = %v; want SNAPSHOT_NOT_FOUND", err)
	}
	if _, _, err := s.ReadSnapshotImage(ctx, missing); !errcode.Is(err, errcode.CodeSnapshotNotFound) {
		t.Fatalf("ReadSnapshotImage() = %v; want SNAPSHOT_NOT_FOUND", err)
	}
	if err := s.DeleteSnapshot(ctx, missing); !errcode.Is(err, errcode.CodeSnapshotNotFound) {
		t.Fatalf("DeleteSnapshot() = %v; want SNAPSHOT_NOT_FOUND", err)
	}
}
