package session

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"sync"
	"time"

	"github.com/rvillela/artbooth/internal/gallery"
)

// Metadata keys of the sentinel artifact carrying the session record.
const (
	metaStatus      = "session_status"
	metaSessionID   = "session_id"
	metaStartedAt   = "session_started_at"
	metaEndedAt     = "session_ended_at"
	metaLastUpdated = "session_last_updated"
)

// MetadataStore persists the session record as metadata on a sentinel gallery
// artifact. The image hosting API is the only durable storage some booth
// deployments have, so the record piggybacks on a placeholder image there.
type MetadataStore struct {
	mu      sync.Mutex
	gallery gallery.Store
	prevID  string
}

func NewMetadataStore(store gallery.Store) *MetadataStore {
	return &MetadataStore{gallery: store}
}

// placeholderPNG is the 1x1 image the session record rides on.
var placeholderPNG = func() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	return buf.Bytes()
}()

func (s *MetadataStore) Current(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _, err := s.load(ctx)
	return rec, err
}

func (s *MetadataStore) Start(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, sentinelID, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	prevID := prev.SessionID
	if prevID == "" {
		prevID = s.prevID
	}

	now := time.Now().UTC()
	rec := Record{
		Status:      StatusActive,
		SessionID:   nextSessionID(prevID),
		StartedAt:   &now,
		LastUpdated: now,
	}
	if err := s.save(ctx, rec, sentinelID); err != nil {
		return Record{}, err
	}
	s.prevID = rec.SessionID
	return rec, nil
}

func (s *MetadataStore) End(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, sentinelID, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec.Status = StatusCompleted
	rec.EndedAt = &now
	rec.LastUpdated = now
	if err := s.save(ctx, rec, sentinelID); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *MetadataStore) Close() error {
	return nil
}

// load finds the sentinel artifact and decodes the record from its metadata.
// Absence yields the idle default.
func (s *MetadataStore) load(ctx context.Context) (Record, string, error) {
	arts, err := s.gallery.List(ctx)
	if err != nil {
		return Record{}, "", fmt.Errorf("list session sentinel: %w", err)
	}
	for _, art := range arts {
		if art.Metadata[gallery.MetaKind] != gallery.KindSession {
			continue
		}
		rec := Record{
			Status:      Status(art.Metadata[metaStatus]),
			SessionID:   art.Metadata[metaSessionID],
			StartedAt:   parseTime(art.Metadata[metaStartedAt]),
			EndedAt:     parseTime(art.Metadata[metaEndedAt]),
			LastUpdated: time.Now().UTC(),
		}
		if t := parseTime(art.Metadata[metaLastUpdated]); t != nil {
			rec.LastUpdated = *t
		}
		if rec.Status == "" {
			rec.Status = StatusIdle
		}
		return rec, art.ID, nil
	}
	return DefaultIdle(), "", nil
}

// save replaces the sentinel artifact. The hosting API has no metadata update
// call, so the old sentinel is deleted and a fresh one uploaded.
func (s *MetadataStore) save(ctx context.Context, rec Record, sentinelID string) error {
	meta := gallery.Metadata{
		gallery.MetaKind: gallery.KindSession,
		metaStatus:       string(rec.Status),
		metaSessionID:    rec.SessionID,
		metaLastUpdated:  rec.LastUpdated.Format(time.RFC3339Nano),
	}
	if rec.StartedAt != nil {
		meta[metaStartedAt] = rec.StartedAt.Format(time.RFC3339Nano)
	}
	if rec.EndedAt != nil {
		meta[metaEndedAt] = rec.EndedAt.Format(time.RFC3339Nano)
	}

	if _, err := s.gallery.Upload(ctx, placeholderPNG, "image/png", meta); err != nil {
		return fmt.Errorf("write session sentinel: %w", err)
	}
	if sentinelID != "" {
		if err := s.gallery.Delete(ctx, sentinelID); err != nil {
			// The stale sentinel only wastes one placeholder image; load
			// prefers the newest record either way.
			log.Printf("session: delete stale sentinel %s: %v", sentinelID, err)
		}
	}
	return nil
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
