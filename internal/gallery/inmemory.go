package gallery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore holds artifacts in process memory. Bytes are served by the
// relay under /images/{id}.
type InMemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	items   map[string]*memItem
}

type memItem struct {
	artifact Artifact
	data     []byte
}

func NewInMemoryStore(publicBaseURL string) *InMemoryStore {
	return &InMemoryStore{
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		items:   make(map[string]*memItem),
	}
}

func (s *InMemoryStore) Upload(_ context.Context, data []byte, contentType string, meta Metadata) (Artifact, error) {
	id := uuid.NewString()
	art := Artifact{
		ID:          id,
		URL:         s.baseURL + "/images/" + id,
		ContentType: contentType,
		Uploaded:    time.Now().UTC(),
		Metadata:    cloneMeta(meta),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.items[id] = &memItem{artifact: art, data: buf}
	return art, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Artifact, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return Artifact{}, nil, ErrNotFound
	}
	buf := make([]byte, len(item.data))
	copy(buf, item.data)
	return item.artifact, buf, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.artifact)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Uploaded.After(out[j].Uploaded)
	})
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
