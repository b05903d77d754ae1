package imagegen

import (
	"context"
	"errors"
)

var (
	ErrPromptRequired = errors.New("prompt is required")
	ErrPhotoRequired  = errors.New("photo is required")
	ErrAPIKeyRequired = errors.New("API key is required")
)

// Request is one image-creation attempt against a provider.
type Request struct {
	Prompt string
	Photo  []byte // JPEG; required for Edit
	Size   string // e.g. "1024x1536"
}

// Provider renders images. Generate is text-to-image; Edit restyles the
// supplied photo. Both return raw image bytes plus their content type.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) ([]byte, string, error)
	Edit(ctx context.Context, req Request) ([]byte, string, error)
}
