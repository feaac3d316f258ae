package recorder

import "time"

// PageEvent records one lifecycle transition on an observed tab.
type PageEvent struct {
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tab_id"`
	Event     string    `json:"event"`
	URL       string    `json:"url,omitempty"`
}

// ConsoleEvent records a console API call or an uncaught exception.
type ConsoleEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	TabID        string    `json:"tab_id"`
	Kind         string    `json:"kind"`
	Text         string    `json:"text"`
	Truncated    bool      `json:"truncated,omitempty"`
	OriginalSize int       `json:"original_size,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
}

// NetworkEvent summarizes request traffic. Response bodies are never
// fetched.
type NetworkEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	TabID        string    `json:"tab_id"`
	Event        string    `json:"event"`
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method,omitempty"`
	URL          string    `json:"url,omitempty"`
	Status       int       `json:"status,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Error        string    `json:"error,omitempty"`
}
