package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

// Ledger writes one session's history into a Repository as it is played.
// Safe for concurrent use.
type Ledger struct {
	repo   Repository
	source string
	now    func() time.Time

	mu      sync.Mutex
	seq     int
	started time.Time
}

func NewLedger(repo Repository, source string) *Ledger {
	return &Ledger{repo: repo, source: source, now: func() time.Time { return time.Now().UTC() }}
}

// Start creates the session record in running state.
func (l *Ledger) Start(ctx context.Context, session statemachine.Session) error {
	l.mu.Lock()
	l.started = l.now()
	l.seq = 0
	started := l.started
	l.mu.Unlock()

	record := l.record(session, SessionStatusRunning, started, nil, "")
	if err := l.repo.CreateSession(ctx, record); err != nil {
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

// Step appends the transition and refreshes the session's counters.
func (l *Ledger) Step(ctx context.Context, session statemachine.Session, step statemachine.Step, fallback bool) error {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	started := l.started
	l.mu.Unlock()

	reveal := RevealRecord{
		SessionID:  session.ID,
		Seq:        seq,
		Kind:       RevealKind(step.Event.Kind),
		FromState:  step.From,
		ToState:    step.To,
		Matched:    containsState(step.Through, domain.StateCardMatched),
		IsFallback: fallback,
		At:         l.now(),
	}
	if step.Event.Kind == statemachine.EventReveal {
		position := step.Event.Position
		reveal.Position = &position
		if slot, ok := session.Deck.SlotOf(position); ok {
			reveal.Slot = &slot
		}
	}
	if err := l.repo.AppendReveal(ctx, reveal); err != nil {
		return fmt.Errorf("append reveal %d for session %s: %w", seq, session.ID, err)
	}

	status := SessionStatusRunning
	var ended *time.Time
	if session.IsFinished() {
		status = SessionStatusFinished
		at := reveal.At
		ended = &at
	}
	if err := l.repo.UpdateSession(ctx, l.record(session, status, started, ended, "")); err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	return nil
}

// Close marks an unfinished session abandoned, or failed when cause is set.
// Finished sessions are left as they are.
func (l *Ledger) Close(ctx context.Context, session statemachine.Session, cause error) error {
	if session.IsFinished() {
		return nil
	}
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	status := SessionStatusAbandoned
	message := ""
	if cause != nil {
		status = SessionStatusFailed
		message = cause.Error()
	}
	ended := l.now()
	if err := l.repo.UpdateSession(ctx, l.record(session, status, started, &ended, message)); err != nil {
		return fmt.Errorf("close session %s: %w", session.ID, err)
	}
	return nil
}

func (l *Ledger) record(session statemachine.Session, status SessionStatus, started time.Time, ended *time.Time, message string) SessionRecord {
	return SessionRecord{
		SessionID:       session.ID,
		Source:          l.source,
		Status:          status,
		Deck:            session.Deck.Clone(),
		FinalState:      session.State,
		Score:           session.Score,
		TriedTimes:      session.TriedTimes,
		Matches:         session.Matches,
		MismatchDelayMS: session.RecoveryDelayMS,
		StartedAt:       started,
		EndedAt:         ended,
		Error:           message,
	}
}

func containsState(states []domain.GameState, target domain.GameState) bool {
	for _, s := range states {
		if s == target {
			return true
		}
	}
	return false
}
