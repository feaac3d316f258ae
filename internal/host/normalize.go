package host

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dgnsrekt/viewcast/internal/errcode"
)

// ValidateURL rejects anything that does not parse as an absolute URL
// with a host, returning the canonical parsed form otherwise.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errcode.New(errcode.CodeInvalidURL, "url is empty", nil)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", errcode.New(errcode.CodeInvalidURL, fmt.Sprintf("invalid url: %s", raw), err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", errcode.New(errcode.CodeInvalidURL, fmt.Sprintf("invalid url: %s", raw), nil)
	}
	return parsed.String(), nil
}

// NormalizeURL turns address-bar input into a navigable absolute URL.
// Bare hostnames get an https scheme, anything that does not look like a
// host becomes a web search. Used by the toolbar channel; the HTTP
// navigate route validates strictly instead.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errcode.New(errcode.CodeInvalidURL, "url is empty", nil)
	}

	candidate := trimmed
	if !strings.Contains(trimmed, "://") {
		if strings.Contains(trimmed, ".") || strings.HasPrefix(trimmed, "localhost") {
			candidate = "https://" + trimmed
		} else {
			candidate = "https://www.google.com/search?q=" + url.QueryEscape(trimmed)
		}
	}
	return ValidateURL(candidate)
}
