package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Record is the single global session record for the booth. There is one
// physical kiosk, so last-writer-wins semantics are acceptable.
type Record struct {
	Status      Status     `json:"status"`
	SessionID   string     `json:"session_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
}

// DefaultIdle is the state reported when no record exists yet. Absence is an
// expected initial condition, not an error.
func DefaultIdle() Record {
	return Record{Status: StatusIdle, LastUpdated: time.Now().UTC()}
}

// Store tracks the booth's one visitor session.
type Store interface {
	// Current returns the session record, or the idle default when absent.
	Current(ctx context.Context) (Record, error)
	// Start overwrites any prior state with a fresh active session.
	Start(ctx context.Context) (Record, error)
	// End marks the session completed. The session id is preserved.
	End(ctx context.Context) (Record, error)
	Close() error
}

var (
	idMu    sync.Mutex
	idMilli int64
	idSeq   int
)

// nextSessionID produces a timestamp-based id guaranteed to differ from the
// stored one and from every id handed out by this process, even when a burst
// of starts lands in the same millisecond.
func nextSessionID(prev string) string {
	idMu.Lock()
	defer idMu.Unlock()

	now := time.Now().UnixMilli()
	if now != idMilli {
		idMilli = now
		idSeq = 0
	}
	for {
		idSeq++
		id := fmt.Sprintf("session-%d", now)
		if idSeq > 1 {
			id = fmt.Sprintf("%s-%d", id, idSeq-1)
		}
		if id != prev {
			return id
		}
	}
}
