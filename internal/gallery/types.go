package gallery

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Well-known metadata keys. The hosting backends treat metadata as an opaque
// string map, so artifact fields and the session bookkeeping record share the
// same mechanism.
const (
	MetaPrompt      = "prompt"
	MetaSourceImage = "source_image_id"
	MetaKind        = "kind"
)

// Artifact kinds stored in MetaKind.
const (
	KindArtifact = "artifact"
	KindSource   = "source"
	KindSession  = "session"
)

type Metadata map[string]string

// Artifact is one immutable stored image plus its metadata.
type Artifact struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type,omitempty"`
	Uploaded    time.Time `json:"uploaded"`
	Metadata    Metadata  `json:"metadata"`
}

// ContentType reports the artifact's media type for serving, defaulting to
// PNG when the backend did not record one.
func ContentType(a Artifact) string {
	if a.ContentType == "" {
		return "image/png"
	}
	return a.ContentType
}

// Store persists generated artifacts and their source photos.
type Store interface {
	Upload(ctx context.Context, data []byte, contentType string, meta Metadata) (Artifact, error)
	Get(ctx context.Context, id string) (Artifact, []byte, error)
	List(ctx context.Context) ([]Artifact, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

func cloneMeta(meta Metadata) Metadata {
	if meta == nil {
		return Metadata{}
	}
	out := make(Metadata, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
