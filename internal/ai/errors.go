package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"relaybot/internal/retry"
)

var (
	ErrEmptyReply      = errors.New("ai: empty reply")
	ErrUnknownProvider = errors.New("ai: unknown provider")
)

const maxErrorBody = 512

// HTTPError is a non-2xx answer from an HTTP endpoint.
type HTTPError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.Status, e.Body)
}

// NewHTTPError builds an HTTPError from a response and classifies it for the
// retry loop: 4xx other than 408/429 is permanent, 429 carries Retry-After.
func NewHTTPError(endpoint string, resp *http.Response, body []byte) error {
	e := &HTTPError{Endpoint: endpoint, Status: resp.StatusCode, Body: clip(strings.TrimSpace(string(body)), maxErrorBody)}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return retry.RetryAfter(e, d)
		}
		return e
	case resp.StatusCode == http.StatusRequestTimeout:
		return e
	case permanentStatus(resp.StatusCode):
		return retry.NoRetry(e)
	default:
		return e
	}
}

// statusError is NewHTTPError for SDK errors that carry a status code but no
// response headers.
func statusError(endpoint string, status int, msg string) error {
	e := &HTTPError{Endpoint: endpoint, Status: status, Body: clip(strings.TrimSpace(msg), maxErrorBody)}
	if permanentStatus(status) {
		return retry.NoRetry(e)
	}
	return e
}

func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
