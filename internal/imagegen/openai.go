package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rvillela/artbooth/internal/reliability"
)

const (
	defaultImageTimeout = 120 * time.Second
	maxSendAttempts     = 3
)

// OpenAIProvider talks to an OpenAI-compatible images API (gpt-image-1 and
// friends): /images/generations for text-to-image and /images/edits for the
// photo-based poster path.
type OpenAIProvider struct {
	apiKey    string
	baseURL   string
	model     string
	client    *http.Client
	retryWait time.Duration
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAIProvider{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		client:    &http.Client{Timeout: defaultImageTimeout},
		retryWait: 500 * time.Millisecond,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imagesResponse struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) ([]byte, string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, "", ErrPromptRequired
	}

	payload, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		N:      1,
		Size:   req.Size,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.send(ctx, httpReq)
}

func (p *OpenAIProvider) Edit(ctx context.Context, req Request) ([]byte, string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, "", ErrPromptRequired
	}
	if len(req.Photo) == 0 {
		return nil, "", ErrPhotoRequired
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "photo.jpg")
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Photo); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := writer.WriteField("prompt", req.Prompt); err != nil {
		return nil, "", fmt.Errorf("write prompt field: %w", err)
	}
	if err := writer.WriteField("model", p.model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if req.Size != "" {
		if err := writer.WriteField("size", req.Size); err != nil {
			return nil, "", fmt.Errorf("write size field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/images/edits", body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.send(ctx, httpReq)
}

// send posts the request, retrying transient upstream statuses with capped
// backoff. Both request bodies are in-memory readers, so GetBody can rewind
// them between attempts.
func (p *OpenAIProvider) send(ctx context.Context, req *http.Request) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, p.retryWait, 8*p.retryWait)):
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, "", fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		img, ct, retryable, err := p.sendOnce(ctx, req)
		if err == nil {
			return img, ct, nil
		}
		lastErr = err
		if !retryable {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func (p *OpenAIProvider) sendOnce(ctx context.Context, req *http.Request) ([]byte, string, bool, error) {
	res, err := p.client.Do(req)
	if err != nil {
		return nil, "", false, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", false, fmt.Errorf("read response: %w", err)
	}

	retryable := reliability.IsRetryableHTTPStatus(res.StatusCode)

	var apiRes imagesResponse
	if err := json.Unmarshal(raw, &apiRes); err != nil {
		return nil, "", retryable, fmt.Errorf("parse response (status %d): %w", res.StatusCode, err)
	}
	if apiRes.Error != nil {
		return nil, "", retryable, fmt.Errorf("image api error (status %d, code %s): %s", res.StatusCode, apiRes.Error.Code, apiRes.Error.Message)
	}
	if res.StatusCode != http.StatusOK {
		return nil, "", retryable, fmt.Errorf("image api status %d", res.StatusCode)
	}
	if len(apiRes.Data) == 0 {
		return nil, "", false, fmt.Errorf("image api returned no data")
	}

	if b64 := apiRes.Data[0].B64JSON; b64 != "" {
		img, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, "", false, fmt.Errorf("decode image payload: %w", err)
		}
		return img, "image/png", false, nil
	}
	if url := apiRes.Data[0].URL; url != "" {
		img, ct, err := p.fetch(ctx, url)
		return img, ct, false, err
	}
	return nil, "", false, fmt.Errorf("image api returned neither bytes nor url")
}

func (p *OpenAIProvider) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create fetch request: %w", err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image status %d", res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/png"
	}
	return data, ct, nil
}
