// Package stream shapes captured frames into the payload served to the
// viewer poll loop.
package stream

import (
	"encoding/base64"
	"time"

	"github.com/dgnsrekt/viewcast/internal/backend"
)

// Payload is the JSON body returned by the live-stream endpoint.
// Timestamp is epoch milliseconds so the page can diff against Date.now().
type Payload struct {
	Frame     string `json:"frame"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

// Encode stamps the payload with the current wall clock.
func Encode(frame *backend.Frame, url string) Payload {
	return EncodeAt(frame, url, time.Now())
}

// EncodeAt builds the payload for a frame captured at the given instant.
// Frame bytes travel base64-encoded so the payload stays plain JSON.
func EncodeAt(frame *backend.Frame, url string, at time.Time) Payload {
	return Payload{
		Frame:     base64.StdEncoding.EncodeToString(frame.Data),
		URL:       url,
		Timestamp: at.UnixMilli(),
	}
}
