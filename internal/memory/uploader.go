package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/ai"
	"relaybot/internal/retry"
	logx "relaybot/pkg/logx"
)

const (
	DefaultURL        = "https://api.personal.ai/v1/memory"
	DefaultSourceName = "Telegram"
	DefaultDeviceName = "Telegram Bot"
	defaultTimeout    = 60 * time.Second
)

type UploaderConfig struct {
	URL        string
	APIKey     string
	SourceName string
	DeviceName string
	// Timeout bounds each attempt.
	Timeout    time.Duration
	Retry      retry.Policy
	Location   *time.Location
	HTTPClient *http.Client
}

// Uploader posts {Text, SourceName, DeviceName, CreatedTime} to the memory
// endpoint with an x-api-key header.
type Uploader struct {
	cfg UploaderConfig
	hc  *http.Client
	log logx.Logger
}

func NewUploader(cfg UploaderConfig, log logx.Logger) *Uploader {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.SourceName) == "" {
		cfg.SourceName = DefaultSourceName
	}
	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = DefaultDeviceName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Uploader{cfg: cfg, hc: hc, log: log}
}

type uploadRequest struct {
	Text        string `json:"Text"`
	SourceName  string `json:"SourceName"`
	DeviceName  string `json:"DeviceName"`
	CreatedTime string `json:"CreatedTime,omitempty"`
}

// Upload sends text, retrying transient failures with the configured policy.
func (u *Uploader) Upload(ctx context.Context, text string, createdAt time.Time) error {
	payload := uploadRequest{Text: text, SourceName: u.cfg.SourceName, DeviceName: u.cfg.DeviceName}
	if !createdAt.IsZero() {
		payload.CreatedTime = createdAt.In(u.cfg.Location).Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()

	return retry.Do(ctx, u.cfg.Retry, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
		return u.post(actx, reqID, body)
	}, func(attempt int, delay time.Duration, err error) {
		u.log.Warn("memory upload failed; retrying",
			logx.String("request_id", reqID),
			logx.Int("attempt", attempt),
			logx.Duration("backoff", delay),
			logx.Err(err),
		)
	})
}

func (u *Uploader) post(ctx context.Context, reqID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.NoRetry(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", u.cfg.APIKey)
	req.Header.Set("X-Request-ID", reqID)

	resp, err := u.hc.Do(req)
	if err != nil {
		return fmt.Errorf("memory upload: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ai.NewHTTPError("memory", resp, raw)
	}
	u.log.Debug("memory upload accepted",
		logx.String("request_id", reqID),
		logx.Int("status", resp.StatusCode),
		logx.Text("response", string(raw), 300),
	)
	return nil
}
