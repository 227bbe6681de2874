package gamerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/presenter"
	"github.com/imaddar/pair-match/internal/rules"
	"github.com/imaddar/pair-match/internal/statemachine"
)

const defaultMaxRevealsPerSession = 2048

var (
	ErrRevealLimitExceeded   = errors.New("reveal limit exceeded")
	ErrRunnerMisconfigured   = errors.New("runner misconfigured")
	ErrContextCancelled      = errors.New("runner context cancelled")
	ErrInvalidSessionsToRun  = errors.New("sessions to run must be greater than zero")
	ErrNoHiddenSlotAvailable = errors.New("no hidden slot available for fallback")
)

// RevealProvider chooses the next table slot to reveal from the public view.
type RevealProvider interface {
	NextReveal(ctx context.Context, view statemachine.View) (int, error)
}

// Observer is implemented by providers that want to see every view the
// runner produces, including the face-up pair before a mismatch recovers.
type Observer interface {
	Observe(view statemachine.View)
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type RunnerConfig struct {
	MaxRevealsPerSession int
	Sleep                SleepFunc
	Presenter            presenter.Presenter
	OnSessionStart       func(statemachine.Session)
	OnStep               func(StepEvent)
	OnSessionComplete    func(SessionSummary)
	Logger               *slog.Logger
}

// StepEvent reports one accepted transition to hooks.
type StepEvent struct {
	Session  statemachine.Session
	Step     statemachine.Step
	Fallback bool
}

type Runner struct {
	provider RevealProvider
	config   RunnerConfig
}

type RunSessionInput struct {
	ID       string
	Shuffler rules.Shuffler
	Deck     domain.Deck
	Config   domain.SessionConfig
}

type RunSessionResult struct {
	FinalSession  statemachine.Session
	RevealCount   int
	FallbackCount int
	RecoverCount  int
	Summary       SessionSummary
}

type RunSessionsInput struct {
	SessionsToRun int
	Shuffler      rules.Shuffler
	Config        domain.SessionConfig
}

type SessionSummary struct {
	SessionID     string
	FinalState    domain.GameState
	Score         int
	TriedTimes    int
	RevealCount   int
	FallbackCount int
	Duration      time.Duration
}

type RunSessionsResult struct {
	SessionsCompleted int
	TotalReveals      int
	TotalFallbacks    int
	TotalTriedTimes   int
	Summaries         []SessionSummary
}

func New(provider RevealProvider, config RunnerConfig) Runner {
	if config.Sleep == nil {
		config.Sleep = Sleep
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return Runner{
		provider: provider,
		config:   config,
	}
}

func (r Runner) RunSessions(ctx context.Context, input RunSessionsInput) (RunSessionsResult, error) {
	var result RunSessionsResult

	if input.SessionsToRun <= 0 {
		return result, ErrInvalidSessionsToRun
	}
	if r.provider == nil {
		return result, ErrRunnerMisconfigured
	}
	if err := checkContext(ctx); err != nil {
		return result, err
	}

	result.Summaries = make([]SessionSummary, 0, input.SessionsToRun)
	for i := 0; i < input.SessionsToRun; i++ {
		if err := checkContext(ctx); err != nil {
			return result, err
		}

		sessionResult, err := r.RunSession(ctx, RunSessionInput{
			Shuffler: input.Shuffler,
			Config:   input.Config,
		})
		if err != nil {
			return result, err
		}

		result.SessionsCompleted++
		result.TotalReveals += sessionResult.RevealCount
		result.TotalFallbacks += sessionResult.FallbackCount
		result.TotalTriedTimes += sessionResult.FinalSession.TriedTimes
		result.Summaries = append(result.Summaries, sessionResult.Summary)
	}

	return result, nil
}

func (r Runner) RunSession(ctx context.Context, input RunSessionInput) (RunSessionResult, error) {
	var result RunSessionResult

	if r.provider == nil {
		return result, ErrRunnerMisconfigured
	}

	maxReveals := r.config.MaxRevealsPerSession
	if maxReveals <= 0 {
		maxReveals = defaultMaxRevealsPerSession
	}

	started := time.Now()
	session, commands, err := statemachine.NewSession(statemachine.NewSessionInput{
		ID:       input.ID,
		Shuffler: input.Shuffler,
		Deck:     input.Deck,
		Config:   input.Config,
	})
	if err != nil {
		return result, err
	}
	result.FinalSession = session
	if r.config.OnSessionStart != nil {
		r.config.OnSessionStart(session)
	}
	presenter.Dispatch(r.config.Presenter, commands)
	r.observe(session)

	logger := r.config.Logger.With("session_id", session.ID)

	for {
		if session.IsFinished() {
			summary := SessionSummary{
				SessionID:     session.ID,
				FinalState:    session.State,
				Score:         session.Score,
				TriedTimes:    session.TriedTimes,
				RevealCount:   result.RevealCount,
				FallbackCount: result.FallbackCount,
				Duration:      time.Since(started),
			}
			logger.Debug("session finished", "score", session.Score, "tried_times", session.TriedTimes)
			if r.config.OnSessionComplete != nil {
				r.config.OnSessionComplete(summary)
			}
			result.Summary = summary
			result.FinalSession = session
			return result, nil
		}

		if err := checkContext(ctx); err != nil {
			result.FinalSession = session
			return result, err
		}

		if session.State == domain.StateCardMatchFailed {
			delay := time.Duration(session.RecoveryDelayMS) * time.Millisecond
			if err := r.config.Sleep(ctx, delay); err != nil {
				result.FinalSession = session
				return result, fmt.Errorf("%w: %w", ErrContextCancelled, err)
			}
			session, err = r.apply(session, statemachine.Recover(), false)
			if err != nil {
				result.FinalSession = session
				return result, fmt.Errorf("apply recovery: %w", err)
			}
			result.RecoverCount++
			result.FinalSession = session
			continue
		}

		view := statemachine.NewView(session)
		slot, err := r.provider.NextReveal(ctx, view)
		if err != nil {
			if err := checkContext(ctx); err != nil {
				result.FinalSession = session
				return result, err
			}
			logger.Debug("reveal provider failed, using fallback", "error", err)

			session, err = r.applyFallback(session, view)
			if err != nil {
				result.FinalSession = session
				return result, fmt.Errorf("apply fallback after provider error: %w", err)
			}

			result.RevealCount++
			result.FallbackCount++
			result.FinalSession = session

			if result.RevealCount > maxReveals {
				return result, fmt.Errorf("%w: applied %d reveals (max %d)", ErrRevealLimitExceeded, result.RevealCount, maxReveals)
			}
			continue
		}

		if err := checkContext(ctx); err != nil {
			result.FinalSession = session
			return result, err
		}

		next, err := r.revealSlot(session, slot, false)
		if err != nil {
			logger.Debug("reveal rejected, using fallback", "slot", slot, "error", err)

			session, err = r.applyFallback(session, view)
			if err != nil {
				result.FinalSession = session
				return result, fmt.Errorf("apply fallback after rejected reveal: %w", err)
			}

			result.RevealCount++
			result.FallbackCount++
			result.FinalSession = session

			if result.RevealCount > maxReveals {
				return result, fmt.Errorf("%w: applied %d reveals (max %d)", ErrRevealLimitExceeded, result.RevealCount, maxReveals)
			}
			continue
		}

		session = next
		result.RevealCount++
		result.FinalSession = session

		if result.RevealCount > maxReveals {
			return result, fmt.Errorf("%w: applied %d reveals (max %d)", ErrRevealLimitExceeded, result.RevealCount, maxReveals)
		}
	}
}

func (r Runner) revealSlot(session statemachine.Session, slot int, fallback bool) (statemachine.Session, error) {
	position, err := session.Deck.PositionAt(slot)
	if err != nil {
		return session, err
	}
	return r.apply(session, statemachine.Reveal(position), fallback)
}

// applyFallback reveals the lowest hidden slot.
func (r Runner) applyFallback(session statemachine.Session, view statemachine.View) (statemachine.Session, error) {
	hidden := view.HiddenSlots()
	if len(hidden) == 0 {
		return session, ErrNoHiddenSlotAvailable
	}
	return r.revealSlot(session, hidden[0], true)
}

func (r Runner) apply(session statemachine.Session, event statemachine.Event, fallback bool) (statemachine.Session, error) {
	next, step, err := statemachine.Transition(session, event)
	if err != nil {
		return session, err
	}
	presenter.Dispatch(r.config.Presenter, step.Commands)
	if r.config.OnStep != nil {
		r.config.OnStep(StepEvent{Session: next, Step: step, Fallback: fallback})
	}
	r.observe(next)
	return next, nil
}

func (r Runner) observe(session statemachine.Session) {
	if observer, ok := r.provider.(Observer); ok {
		observer.Observe(statemachine.NewView(session))
	}
}

// Sleep waits for d using a timer and returns early if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep skips the mismatch delay. Used by simulations.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	default:
		return nil
	}
}
