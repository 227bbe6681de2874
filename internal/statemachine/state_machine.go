package statemachine

import (
	"errors"
	"fmt"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/rules"
)

var (
	ErrGameFinished      = errors.New("game already finished")
	ErrCardFaceUp        = errors.New("card is already face up")
	ErrCardPaired        = errors.New("card is already paired")
	ErrRecoveryPending   = errors.New("mismatch recovery pending")
	ErrNoPendingRecovery = errors.New("no mismatch recovery pending")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidSession    = errors.New("invalid session")
)

type EventKind string

const (
	EventReveal  EventKind = "reveal"
	EventRecover EventKind = "recover"
)

type Event struct {
	Kind     EventKind       `json:"kind"`
	Position domain.Position `json:"position"`
}

func Reveal(p domain.Position) Event {
	return Event{Kind: EventReveal, Position: p}
}

// Recover is delivered by the driver once the mismatch delay has elapsed.
func Recover() Event {
	return Event{Kind: EventRecover}
}

// Session is the complete state of one playthrough. Faces is indexed by position.
type Session struct {
	ID              string                       `json:"id"`
	Deck            domain.Deck                  `json:"deck"`
	State           domain.GameState             `json:"state"`
	Faces           [domain.DeckSize]domain.Face `json:"faces"`
	Revealed        []domain.Position            `json:"revealed"`
	Score           int                          `json:"score"`
	TriedTimes      int                          `json:"tried_times"`
	Matches         int                          `json:"matches"`
	RecoveryDelayMS uint64                       `json:"recovery_delay_ms"`
}

func (s Session) IsFinished() bool {
	return s.State.IsTerminal()
}

type NewSessionInput struct {
	ID       string
	Shuffler rules.Shuffler
	// Deck overrides dealing when set; it must be a full permutation.
	Deck   domain.Deck
	Config domain.SessionConfig
}

// Step describes one accepted event. Through lists transient states passed on the way to To.
type Step struct {
	Event    Event
	From     domain.GameState
	Through  []domain.GameState
	To       domain.GameState
	Commands []Command
}

func NewSession(input NewSessionInput) (Session, []Command, error) {
	cfg := input.Config
	if cfg == (domain.SessionConfig{}) {
		cfg = domain.DefaultSessionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Session{}, nil, err
	}

	deck := input.Deck.Clone()
	if deck == nil {
		dealt, err := rules.Deal(input.Shuffler)
		if err != nil {
			return Session{}, nil, err
		}
		deck = dealt
	}
	if err := deck.Validate(); err != nil {
		return Session{}, nil, err
	}

	id := input.ID
	if id == "" {
		id = domain.NewSessionID()
	}

	session := Session{
		ID:              id,
		Deck:            deck,
		State:           domain.StateFirstCardAwaits,
		Revealed:        make([]domain.Position, 0, 2),
		RecoveryDelayMS: cfg.MismatchDelayMS,
	}
	for i := range session.Faces {
		session.Faces[i] = domain.FaceHidden
	}

	return session, []Command{renderDeck(deck), updateScore(0), updateTriedTimes(0)}, nil
}

// Apply runs one event through the machine. The input session is never mutated;
// a rejected event returns it unchanged with no commands.
func Apply(session Session, event Event) (Session, []Command, error) {
	next, step, err := Transition(session, event)
	if err != nil {
		return session, nil, err
	}
	return next, step.Commands, nil
}

func Transition(session Session, event Event) (Session, Step, error) {
	if err := validate(session, event); err != nil {
		return session, Step{}, err
	}

	next := cloneSession(session)
	step := Step{Event: event, From: session.State}

	switch event.Kind {
	case EventReveal:
		applyReveal(&next, &step, event.Position)
	case EventRecover:
		applyRecover(&next, &step)
	}

	step.To = next.State
	return next, step, nil
}

func validate(session Session, event Event) error {
	if session.State == "" || len(session.Deck) != domain.DeckSize {
		return ErrInvalidSession
	}
	if session.State.IsTerminal() {
		return ErrGameFinished
	}

	switch event.Kind {
	case EventReveal:
		if !event.Position.Valid() {
			return fmt.Errorf("%w: %d", domain.ErrPositionOutOfRange, event.Position)
		}
		switch session.Faces[event.Position] {
		case domain.FaceUp:
			return ErrCardFaceUp
		case domain.FacePaired:
			return ErrCardPaired
		}
		if session.State == domain.StateCardMatchFailed {
			return ErrRecoveryPending
		}
		if session.State != domain.StateFirstCardAwaits && session.State != domain.StateSecondCardAwaits {
			return fmt.Errorf("%w: cannot reveal in state %s", ErrInvalidSession, session.State)
		}
	case EventRecover:
		if session.State != domain.StateCardMatchFailed {
			return ErrNoPendingRecovery
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event.Kind)
	}
	return nil
}

func applyReveal(s *Session, step *Step, p domain.Position) {
	if s.State == domain.StateFirstCardAwaits {
		s.Faces[p] = domain.FaceUp
		s.Revealed = append(s.Revealed, p)
		s.State = domain.StateSecondCardAwaits
		step.Commands = append(step.Commands, showFace(p))
		return
	}

	s.TriedTimes++
	s.Faces[p] = domain.FaceUp
	s.Revealed = append(s.Revealed, p)
	step.Commands = append(step.Commands, updateTriedTimes(s.TriedTimes), showFace(p))

	first, second := s.Revealed[0], s.Revealed[1]
	if !rules.IsMatch(first, second) {
		s.State = domain.StateCardMatchFailed
		step.Commands = append(step.Commands, markWrong(first, second), scheduleRecovery(s.RecoveryDelayMS))
		return
	}

	s.Matches++
	s.Score += domain.PointsPerMatch
	s.Faces[first] = domain.FacePaired
	s.Faces[second] = domain.FacePaired
	s.Revealed = s.Revealed[:0]
	s.State = domain.StateCardMatched
	step.Through = append(step.Through, domain.StateCardMatched)
	step.Commands = append(step.Commands, updateScore(s.Score), markPaired(first, second))

	if s.Score == domain.WinningScore {
		s.State = domain.StateGameFinished
		step.Commands = append(step.Commands, announceCompletion(s.Score, s.TriedTimes))
		return
	}
	s.State = domain.StateFirstCardAwaits
}

func applyRecover(s *Session, step *Step) {
	for _, p := range s.Revealed {
		s.Faces[p] = domain.FaceHidden
		step.Commands = append(step.Commands, hideFace(p))
	}
	s.Revealed = s.Revealed[:0]
	s.State = domain.StateFirstCardAwaits
}

func cloneSession(session Session) Session {
	cloned := session
	cloned.Deck = session.Deck.Clone()
	cloned.Revealed = append(make([]domain.Position, 0, 2), session.Revealed...)
	return cloned
}
