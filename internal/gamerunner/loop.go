package gamerunner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

var ErrLoopClosed = errors.New("session loop closed")

// Scheduler runs f once after d. Loop never cancels a scheduled call.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

type LoopConfig struct {
	Scheduler Scheduler
	Logger    *slog.Logger
	// OnStep runs on the loop goroutine after every accepted transition,
	// including timer-driven recoveries.
	OnStep func(StepEvent)
}

// RevealResult is the outcome of one reveal request. A rejected reveal is not
// an error: Accepted is false and Reason carries the sentinel.
type RevealResult struct {
	Accepted bool
	Reason   error
	Commands []statemachine.Command
	View     statemachine.View
}

type requestKind int

const (
	requestReveal requestKind = iota
	requestSnapshot
)

type loopRequest struct {
	kind  requestKind
	slot  int
	reply chan loopReply
}

type loopReply struct {
	session statemachine.Session
	result  RevealResult
}

// Loop owns one session on a single goroutine. Reveals, snapshots and
// recovery timers are serialised through it.
type Loop struct {
	requests   chan loopRequest
	recoveries chan struct{}
	closing    chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	id      string
	config  LoopConfig
	logger  *slog.Logger
	session statemachine.Session
}

// StartLoop creates a session and starts its loop. The returned commands are
// the initial rendering batch.
func StartLoop(input statemachine.NewSessionInput, config LoopConfig) (*Loop, []statemachine.Command, error) {
	session, commands, err := statemachine.NewSession(input)
	if err != nil {
		return nil, nil, err
	}
	if config.Scheduler == nil {
		config.Scheduler = timeScheduler{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	l := &Loop{
		requests:   make(chan loopRequest),
		recoveries: make(chan struct{}, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		id:         session.ID,
		config:     config,
		logger:     config.Logger.With("session_id", session.ID),
		session:    session,
	}
	go l.run()
	return l, commands, nil
}

func (l *Loop) SessionID() string {
	return l.id
}

// Reveal asks the loop to reveal the card at a table slot.
func (l *Loop) Reveal(ctx context.Context, slot int) (RevealResult, error) {
	reply, err := l.send(ctx, loopRequest{kind: requestReveal, slot: slot})
	if err != nil {
		return RevealResult{}, err
	}
	return reply.result, nil
}

func (l *Loop) Snapshot(ctx context.Context) (statemachine.Session, error) {
	reply, err := l.send(ctx, loopRequest{kind: requestSnapshot})
	if err != nil {
		return statemachine.Session{}, err
	}
	return reply.session, nil
}

// Close stops the loop. Pending timers that fire afterwards are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
	<-l.done
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) send(ctx context.Context, req loopRequest) (loopReply, error) {
	req.reply = make(chan loopReply, 1)
	select {
	case <-ctx.Done():
		return loopReply{}, ctx.Err()
	case <-l.done:
		return loopReply{}, ErrLoopClosed
	case l.requests <- req:
	}
	select {
	case <-ctx.Done():
		return loopReply{}, ctx.Err()
	case reply := <-req.reply:
		return reply, nil
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.closing:
			return
		case <-l.recoveries:
			l.recover()
		case req := <-l.requests:
			switch req.kind {
			case requestReveal:
				req.reply <- loopReply{result: l.reveal(req.slot)}
			case requestSnapshot:
				req.reply <- loopReply{session: l.session}
			}
		}
	}
}

func (l *Loop) reveal(slot int) RevealResult {
	position, err := l.session.Deck.PositionAt(slot)
	if err != nil {
		return l.rejected(err)
	}
	next, step, err := statemachine.Transition(l.session, statemachine.Reveal(position))
	if err != nil {
		return l.rejected(err)
	}
	l.accept(next, step)
	if delay, ok := statemachine.RecoveryDelay(step.Commands); ok {
		l.config.Scheduler.AfterFunc(time.Duration(delay)*time.Millisecond, l.fireRecovery)
	}
	return RevealResult{
		Accepted: true,
		Commands: step.Commands,
		View:     statemachine.NewView(l.session),
	}
}

func (l *Loop) rejected(err error) RevealResult {
	l.logger.Debug("reveal rejected", "state", l.session.State, "error", err)
	return RevealResult{
		Accepted: false,
		Reason:   err,
		View:     statemachine.NewView(l.session),
	}
}

func (l *Loop) recover() {
	if l.session.State != domain.StateCardMatchFailed {
		return
	}
	next, step, err := statemachine.Transition(l.session, statemachine.Recover())
	if err != nil {
		l.logger.Error("mismatch recovery failed", "error", err)
		return
	}
	l.accept(next, step)
}

func (l *Loop) accept(next statemachine.Session, step statemachine.Step) {
	l.session = next
	if l.config.OnStep != nil {
		l.config.OnStep(StepEvent{Session: next, Step: step})
	}
}

// fireRecovery runs on the scheduler's goroutine.
func (l *Loop) fireRecovery() {
	select {
	case <-l.done:
	case <-l.closing:
	case l.recoveries <- struct{}{}:
	}
}
