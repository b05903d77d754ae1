package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rvillela/artbooth/internal/session"
)

// RelayAPI is the slice of the relay the controller needs.
type RelayAPI interface {
	SessionState(ctx context.Context) (session.Record, error)
	StartSession(ctx context.Context) (session.Record, error)
	EndSession(ctx context.Context) (session.Record, error)
	EditImage(ctx context.Context, photo []byte, prompt, size string) (GeneratedImage, error)
}

// GeneratedImage is the relay's answer to an image request.
type GeneratedImage struct {
	URL          string `json:"output"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
	Embedded     bool   `json:"embedded,omitempty"`
}

// RelayClient talks to the edge relay over HTTP.
type RelayClient struct {
	baseURL string
	client  *http.Client
}

func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			// Image generation regularly takes a minute or more.
			Timeout: 3 * time.Minute,
		},
	}
}

func (c *RelayClient) SessionState(ctx context.Context) (session.Record, error) {
	return c.sessionCall(ctx, http.MethodGet, "/api/session-state")
}

func (c *RelayClient) StartSession(ctx context.Context) (session.Record, error) {
	return c.sessionCall(ctx, http.MethodPost, "/api/start-session")
}

func (c *RelayClient) EndSession(ctx context.Context) (session.Record, error) {
	return c.sessionCall(ctx, http.MethodPost, "/api/end-session")
}

func (c *RelayClient) sessionCall(ctx context.Context, method, path string) (session.Record, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return session.Record{}, fmt.Errorf("create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return session.Record{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return session.Record{}, fmt.Errorf("%s %s: status %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(body)))
	}

	var rec session.Record
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		return session.Record{}, fmt.Errorf("decode session record: %w", err)
	}
	return rec, nil
}

// Instructions fetches the persona prompt the relay pushes to voice agents.
func (c *RelayClient) Instructions(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instructions", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get instructions: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("instructions status %d", res.StatusCode)
	}
	var body struct {
		Instructions string `json:"instructions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode instructions: %w", err)
	}
	return body.Instructions, nil
}

// EditImage uploads the visitor photo with the prompt and returns the
// generated artifact reference.
func (c *RelayClient) EditImage(ctx context.Context, photo []byte, prompt, size string) (GeneratedImage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", "photo.jpg")
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return GeneratedImage{}, fmt.Errorf("write photo: %w", err)
	}
	if err := mw.WriteField("prompt", prompt); err != nil {
		return GeneratedImage{}, fmt.Errorf("write prompt: %w", err)
	}
	if size != "" {
		if err := mw.WriteField("size", size); err != nil {
			return GeneratedImage{}, fmt.Errorf("write size: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return GeneratedImage{}, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/edit-image", &buf)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.client.Do(req)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("post edit-image: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return GeneratedImage{}, fmt.Errorf("edit-image status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out GeneratedImage
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return GeneratedImage{}, fmt.Errorf("decode edit-image response: %w", err)
	}
	if out.URL == "" {
		return GeneratedImage{}, fmt.Errorf("edit-image response missing output url")
	}
	return out, nil
}
