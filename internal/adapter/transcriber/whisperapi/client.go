// Package whisperapi implements the transcription port against a
// whisper-style HTTP service running out of process. Transcription of a
// long episode takes minutes; callers own the deadline.
package whisperapi

import (
	"context"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// Client posts audio URLs to the transcription service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client. timeout bounds one transcription request
// end to end.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe converts the audio at audioURL into text. Transient service
// errors are retried briefly; sustained failure surfaces as
// ErrUpstreamTimeout so the queue applies its own backoff.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (string, error) {
	if audioURL == "" {
		return "", fmt.Errorf("op=transcribe: %w: empty audio url", domain.ErrInvalidArgument)
	}
	body, err := json.Marshal(transcribeRequest{AudioURL: audioURL})
	if err != nil {
		return "", fmt.Errorf("op=transcribe: %w", err)
	}

	var text string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err))
			}
			return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		defer func() { _ = resp.Body.Close() }()
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: transcription service busy", domain.ErrUpstreamRateLimit)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", domain.ErrUpstreamTimeout, resp.StatusCode)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrInvalidArgument, resp.StatusCode, b))
		}
		var tr transcribeResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrParse, err)
		}
		text = tr.Text
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Second),
		backoff.WithMaxInterval(30*time.Second),
	), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", fmt.Errorf("op=transcribe: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("op=transcribe: %w: empty transcript", domain.ErrParse)
	}
	return text, nil
}

var _ domain.Transcriber = (*Client)(nil)
