package session

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps the session record in process memory.
type InMemoryStore struct {
	mu     sync.Mutex
	rec    *Record
	prevID string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Current(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return DefaultIdle(), nil
	}
	return *s.rec, nil
}

func (s *InMemoryStore) Start(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := Record{
		Status:      StatusActive,
		SessionID:   nextSessionID(s.prevID),
		StartedAt:   &now,
		LastUpdated: now,
	}
	s.rec = &rec
	s.prevID = rec.SessionID
	return rec, nil
}

func (s *InMemoryStore) End(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.rec == nil {
		rec := Record{Status: StatusCompleted, EndedAt: &now, LastUpdated: now}
		s.rec = &rec
		return rec, nil
	}
	// Merge, not replace: the session id survives the end call.
	s.rec.Status = StatusCompleted
	s.rec.EndedAt = &now
	s.rec.LastUpdated = now
	return *s.rec, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
