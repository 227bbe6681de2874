package persistence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/imaddar/pair-match/internal/domain"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrRevealAlreadyExists  = errors.New("reveal sequence already recorded")
)

const DefaultListLimit = 50

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusFinished  SessionStatus = "finished"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusFailed    SessionStatus = "failed"
)

// SessionRecord is the ledger entry for one playthrough. It is history only;
// a session is never rebuilt from it.
type SessionRecord struct {
	SessionID       string
	Source          string
	Status          SessionStatus
	Deck            domain.Deck
	FinalState      domain.GameState
	Score           int
	TriedTimes      int
	Matches         int
	MismatchDelayMS uint64
	StartedAt       time.Time
	EndedAt         *time.Time
	Error           string
}

type RevealKind string

const (
	RevealKindReveal  RevealKind = "reveal"
	RevealKindRecover RevealKind = "recover"
)

// RevealRecord is one accepted transition in a session's audit trail.
type RevealRecord struct {
	SessionID  string
	Seq        int
	Kind       RevealKind
	Slot       *int
	Position   *domain.Position
	FromState  domain.GameState
	ToState    domain.GameState
	Matched    bool
	IsFallback bool
	At         time.Time
}

type Repository interface {
	CreateSession(ctx context.Context, record SessionRecord) error
	UpdateSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error)
	// ListSessions returns the most recently started sessions first.
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	AppendReveal(ctx context.Context, record RevealRecord) error
	ListReveals(ctx context.Context, sessionID string) ([]RevealRecord, error)
}

type inMemoryRepository struct {
	mu sync.RWMutex

	sessions map[string]SessionRecord
	reveals  map[string][]RevealRecord
}

func NewInMemoryRepository() Repository {
	return &inMemoryRepository{
		sessions: make(map[string]SessionRecord),
		reveals:  make(map[string][]RevealRecord),
	}
}

func (r *inMemoryRepository) CreateSession(_ context.Context, record SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[record.SessionID]; exists {
		return ErrSessionAlreadyExists
	}
	r.sessions[record.SessionID] = cloneSessionRecord(record)
	return nil
}

func (r *inMemoryRepository) UpdateSession(_ context.Context, record SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[record.SessionID]; !exists {
		return ErrSessionNotFound
	}
	r.sessions[record.SessionID] = cloneSessionRecord(record)
	return nil
}

func (r *inMemoryRepository) GetSession(_ context.Context, sessionID string) (SessionRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.sessions[sessionID]
	if !ok {
		return SessionRecord{}, false, nil
	}
	return cloneSessionRecord(record), true, nil
}

func (r *inMemoryRepository) ListSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]SessionRecord, 0, len(r.sessions))
	for _, record := range r.sessions {
		sessions = append(sessions, cloneSessionRecord(record))
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].SessionID > sessions[j].SessionID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	limit = normalizeLimit(limit)
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r *inMemoryRepository) AppendReveal(_ context.Context, record RevealRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[record.SessionID]; !exists {
		return ErrSessionNotFound
	}
	for _, existing := range r.reveals[record.SessionID] {
		if existing.Seq == record.Seq {
			return ErrRevealAlreadyExists
		}
	}
	r.reveals[record.SessionID] = append(r.reveals[record.SessionID], cloneRevealRecord(record))
	return nil
}

func (r *inMemoryRepository) ListReveals(_ context.Context, sessionID string) ([]RevealRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := r.reveals[sessionID]
	out := make([]RevealRecord, 0, len(records))
	for _, record := range records {
		out = append(out, cloneRevealRecord(record))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func cloneSessionRecord(record SessionRecord) SessionRecord {
	out := record
	out.Deck = record.Deck.Clone()
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		out.EndedAt = &endedAt
	}
	return out
}

func cloneRevealRecord(record RevealRecord) RevealRecord {
	out := record
	if record.Slot != nil {
		slot := *record.Slot
		out.Slot = &slot
	}
	if record.Position != nil {
		position := *record.Position
		out.Position = &position
	}
	return out
}
