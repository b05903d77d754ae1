package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Relay forwards a session-negotiation offer to the realtime voice provider
// and returns its answer verbatim. A straight synchronous proxy: no retries,
// no caching. Its job is keeping the provider credentials server-side.
type Relay struct {
	apiKey       string
	baseURL      string
	model        string
	voice        string
	instructions string
	client       *http.Client
}

type RelayConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Voice        string
	Instructions string
}

func NewRelay(cfg RelayConfig) *Relay {
	return &Relay{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSpace(cfg.BaseURL),
		model:        cfg.Model,
		voice:        cfg.Voice,
		instructions: cfg.Instructions,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Instructions returns the persona prompt pushed to the voice agent.
func (r *Relay) Instructions() string {
	return r.instructions
}

// Negotiate posts the opaque SDP offer upstream with the fixed session
// parameters and returns the SDP answer.
func (r *Relay) Negotiate(ctx context.Context, offerSDP string) (string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", r.model)
	q.Set("voice", r.voice)
	q.Set("instructions", r.instructions)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	res, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send offer: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("realtime provider status %d: %s", res.StatusCode, truncate(string(body), 512))
	}
	return string(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
