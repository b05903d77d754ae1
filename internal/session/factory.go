package session

import (
	"context"
	"strings"

	"github.com/rvillela/artbooth/internal/gallery"
)

// NewStore creates a postgres-backed store when a database is configured.
// Otherwise the record piggybacks on the gallery via the metadata sentinel,
// falling back to process memory when no gallery is available either.
func NewStore(ctx context.Context, databaseURL string, store gallery.Store) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if store != nil {
		return NewMetadataStore(store), nil
	}
	return NewInMemoryStore(), nil
}
