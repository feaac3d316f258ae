package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dgnsrekt/viewcast/internal/errcode"
)

// statusForCode maps coded errors on the plain routes the same way
// mapErr does for the typed API.
func statusForCode(err error) int {
	coded := errcode.AsCoded(err)
	if coded == nil {
		return http.StatusInternalServerError
	}
	switch coded.Code {
	case errcode.CodeValidation, errcode.CodeInvalidURL:
		return http.StatusBadRequest
	case errcode.CodeUnknownTab, errcode.CodeSnapshotNotFound:
		return http.StatusNotFound
	case errcode.CodeLastTab:
		return http.StatusConflict
	case errcode.CodeCaptureTimeout:
		return http.StatusGatewayTimeout
	case errcode.CodeBackendUnavailable, errcode.CodeCDPError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errMessage(err error) string {
	if coded := errcode.AsCoded(err); coded != nil {
		return coded.Message
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api response write failed", "error", err)
	}
}

// writeError emits the {"error": ...} envelope the polling clients parse.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForCode(err), map[string]string{"error": errMessage(err)})
}

func handleViewer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(viewerHTML)); err != nil {
			slog.Debug("viewer response write failed", "error", err)
		}
	}
}

// handleLiveStream serves one freshly captured frame per poll. The
// capture runs on the host loop; a slow engine answers this request
// late but never blocks the next one past the call timeout.
func handleLiveStream(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := svc.Stream(r.Context())
		if err != nil {
			slog.Warn("live-stream capture failed", "error", err)
			writeError(w, err)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(w, http.StatusOK, payload)
	}
}

// handleNavigate drives the active tab, or ?tab= when given. The URL
// must already be absolute; address-bar conveniences live in the
// toolbar channel, not here.
func handleNavigate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")

		var (
			target string
			err    error
		)
		if tabParam := r.URL.Query().Get("tab"); tabParam != "" {
			tabID, perr := strconv.ParseInt(tabParam, 10, 64)
			if perr != nil {
				writeError(w, errcode.New(errcode.CodeValidation, "tab must be an integer", perr))
				return
			}
			target, err = svc.Navigate(r.Context(), tabID, raw)
		} else {
			target, err = svc.NavigateActive(r.Context(), raw)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "navigating", "url": target})
	}
}
