package gallery

import (
	"context"
	"fmt"
	"strings"
)

// Options selects a gallery backend.
type Options struct {
	Mode                string // auto | postgres | hosted | memory
	DatabaseURL         string
	HostedImagesBaseURL string
	HostedImagesToken   string
	PublicBaseURL       string
}

// NewStore picks a backend: hosted when credentials are configured, postgres
// when a database is, otherwise in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "hosted":
		if opts.HostedImagesBaseURL == "" || opts.HostedImagesToken == "" {
			return nil, fmt.Errorf("GALLERY_MODE=hosted requires HOSTED_IMAGES_BASE_URL and HOSTED_IMAGES_TOKEN")
		}
		return NewHostedStore(opts.HostedImagesBaseURL, opts.HostedImagesToken), nil
	case "postgres":
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("GALLERY_MODE=postgres requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL, opts.PublicBaseURL)
	case "memory":
		return NewInMemoryStore(opts.PublicBaseURL), nil
	case "auto":
		if opts.HostedImagesBaseURL != "" && opts.HostedImagesToken != "" {
			return NewHostedStore(opts.HostedImagesBaseURL, opts.HostedImagesToken), nil
		}
		if opts.DatabaseURL != "" {
			return NewPostgresStore(ctx, opts.DatabaseURL, opts.PublicBaseURL)
		}
		return NewInMemoryStore(opts.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("invalid gallery mode: %q", opts.Mode)
	}
}
