package gallery

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
)

// HostedStore uploads artifacts to an external image-hosting API so visitors
// get a shareable CDN URL. The API follows the usual hosted-images shape:
// multipart upload with a JSON metadata field, list, delete, and public blob
// URLs per image.
type HostedStore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHostedStore(baseURL, token string) *HostedStore {
	return &HostedStore{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   token,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type hostedImage struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	ContentType string            `json:"content_type"`
	Uploaded    time.Time         `json:"uploaded"`
	Metadata    map[string]string `json:"metadata"`
}

type hostedListResponse struct {
	Images []hostedImage `json:"images"`
}

func (s *HostedStore) Upload(ctx context.Context, data []byte, contentType string, meta Metadata) (Artifact, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := "artifact.png"
	if strings.Contains(contentType, "jpeg") {
		filename = "artifact.jpg"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Artifact{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Artifact{}, fmt.Errorf("write file part: %w", err)
	}

	metaJSON, err := json.Marshal(cloneMeta(meta))
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return Artifact{}, fmt.Errorf("write metadata field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/images", body)
	if err != nil {
		return Artifact{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token)

	res, err := s.client.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("upload request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Artifact{}, fmt.Errorf("hosted upload status %d: %s", res.StatusCode, string(detail))
	}

	var img hostedImage
	if err := json.NewDecoder(res.Body).Decode(&img); err != nil {
		return Artifact{}, fmt.Errorf("decode upload response: %w", err)
	}
	return artifactFromHosted(img), nil
}

func (s *HostedStore) Get(ctx context.Context, id string) (Artifact, []byte, error) {
	arts, err := s.List(ctx)
	if err != nil {
		return Artifact{}, nil, err
	}
	for _, art := range arts {
		if art.ID != id {
			continue
		}
		data, err := s.fetchBlob(ctx, art.URL)
		if err != nil {
			return Artifact{}, nil, err
		}
		return art, data, nil
	}
	return Artifact{}, nil, ErrNotFound
}

func (s *HostedStore) fetchBlob(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob request: %w", err)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch blob status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

func (s *HostedStore) List(ctx context.Context) ([]Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/images", nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("hosted list status %d: %s", res.StatusCode, string(detail))
	}

	var list hostedListResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	out := make([]Artifact, 0, len(list.Images))
	for _, img := range list.Images {
		out = append(out, artifactFromHosted(img))
	}
	return out, nil
}

func (s *HostedStore) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/images/"+id, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("hosted delete status %d: %s", res.StatusCode, string(detail))
	}
}

func (s *HostedStore) Close() error {
	return nil
}

func artifactFromHosted(img hostedImage) Artifact {
	meta := Metadata{}
	for k, v := range img.Metadata {
		meta[k] = v
	}
	return Artifact{
		ID:          img.ID,
		URL:         img.URL,
		ContentType: img.ContentType,
		Uploaded:    img.Uploaded,
		Metadata:    meta,
	}
}
