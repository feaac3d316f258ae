package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/viewcast/internal/backend"
	"github.com/dgnsrekt/viewcast/internal/errcode"
	"github.com/dgnsrekt/viewcast/internal/snapshot"
	"github.com/dgnsrekt/viewcast/internal/stream"
	"github.com/dgnsrekt/viewcast/internal/tabs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the surface the HTTP layer drives. *controller.Service
// implements it on top of the host loop and the snapshot store.
type Service interface {
	Kind() backend.Kind
	Stream(ctx context.Context) (stream.Payload, error)
	Navigate(ctx context.Context, tabID int64, rawURL string) (string, error)
	NavigateActive(ctx context.Context, rawURL string) (string, error)
	CurrentURL(tabID int64) (string, error)
	EngineURL(ctx context.Context, tabID int64) (string, error)
	Tabs() []tabs.Tab
	ActiveTab() (tabs.Tab, bool)
	OpenTab(ctx context.Context, rawURL string) (int64, error)
	CloseTab(ctx context.Context, tabID int64) error
	SwitchTab(ctx context.Context, tabID int64) error
	TakeSnapshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error)
	ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// NewServer wires the viewer, the live-stream surface and the typed API
// onto one router. The three browser-facing routes (/, /live-stream,
// /navigate) bypass huma so their wire shapes stay exactly what the
// viewer page and polling clients expect.
func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("viewcast host API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/", handleViewer())
	router.Get("/live-stream", handleLiveStream(svc))
	router.Get("/navigate", handleNavigate(svc))

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerTabHandlers(api, svc)
	registerSnapshotHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *errcode.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case errcode.CodeValidation, errcode.CodeInvalidURL:
			return huma.Error400BadRequest(coded.Message)
		case errcode.CodeUnknownTab, errcode.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case errcode.CodeLastTab:
			return huma.Error409Conflict(coded.Message)
		case errcode.CodeCaptureTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case errcode.CodeBackendUnavailable, errcode.CodeCDPError:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
