package ai

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	openai "github.com/openai/openai-go/v3"
	"google.golang.org/genai"

	"relaybot/internal/retry"
)

func TestClipKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "abcdef", n: 3, want: "abc…"},
		{in: "héllo", n: 2, want: "h…"},
		{in: "日本語", n: 4, want: "日…"},
		{in: "日本語", n: 0, want: "日本語"},
	}
	for _, tt := range tests {
		got := clip(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}

	body := strings.Repeat("ошибка ", 100)
	e := &HTTPError{Body: clip(body, maxErrorBody)}
	if !utf8.ValidString(e.Body) {
		t.Fatalf("clipped error body is not valid utf-8: %q", e.Body)
	}
}

func TestSDKErrorsClassifiedByStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		permanent bool
		status    int
	}{
		{name: "openai 400 without response", err: &openai.Error{StatusCode: http.StatusBadRequest, Message: "bad model"}, permanent: true, status: 400},
		{name: "openai 429 without response", err: &openai.Error{StatusCode: http.StatusTooManyRequests, Message: "slow down"}, status: 429},
		{name: "openai 500 without response", err: &openai.Error{StatusCode: http.StatusInternalServerError}, status: 500},
		{name: "gemini 403", err: genai.APIError{Code: http.StatusForbidden, Message: "denied"}, permanent: true, status: 403},
		{name: "gemini 408", err: genai.APIError{Code: http.StatusRequestTimeout}, status: 408},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got error
			if strings.HasPrefix(tt.name, "openai") {
				got = classifyOpenAIError(tt.err)
			} else {
				got = classifyGeminiError(tt.err)
			}
			if retry.IsNoRetry(got) != tt.permanent {
				t.Fatalf("IsNoRetry = %v, want %v (%v)", !tt.permanent, tt.permanent, got)
			}
			var he *HTTPError
			if !errors.As(got, &he) || he.Status != tt.status {
				t.Fatalf("err = %v, want HTTPError with status %d", got, tt.status)
			}
		})
	}
}
