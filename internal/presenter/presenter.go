package presenter

import (
	"sync"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

// Presenter renders state machine output. Implementations must not call back into the core.
type Presenter interface {
	RenderDeck(deck domain.Deck)
	SetFace(position domain.Position, faceUp bool, card *domain.Card)
	MarkPaired(positions ...domain.Position)
	MarkWrong(positions ...domain.Position)
	UpdateScore(score int)
	UpdateTriedTimes(times int)
	AnnounceCompletion(score int, triedTimes int)
}

// Dispatch forwards commands to p in order. Driver-only commands are skipped.
func Dispatch(p Presenter, commands []statemachine.Command) {
	if p == nil {
		return
	}
	for _, cmd := range commands {
		switch cmd.Kind {
		case statemachine.CommandRenderDeck:
			p.RenderDeck(cmd.Deck.Clone())
		case statemachine.CommandSetFace:
			for _, pos := range cmd.Positions {
				p.SetFace(pos, cmd.FaceUp, cmd.Card)
			}
		case statemachine.CommandMarkPaired:
			p.MarkPaired(cmd.Positions...)
		case statemachine.CommandMarkWrong:
			p.MarkWrong(cmd.Positions...)
		case statemachine.CommandUpdateScore:
			p.UpdateScore(cmd.Score)
		case statemachine.CommandUpdateTriedTimes:
			p.UpdateTriedTimes(cmd.TriedTimes)
		case statemachine.CommandAnnounceCompletion:
			p.AnnounceCompletion(cmd.Score, cmd.TriedTimes)
		}
	}
}

type Multi []Presenter

func (m Multi) RenderDeck(deck domain.Deck) {
	for _, p := range m {
		p.RenderDeck(deck)
	}
}

func (m Multi) SetFace(position domain.Position, faceUp bool, card *domain.Card) {
	for _, p := range m {
		p.SetFace(position, faceUp, card)
	}
}

func (m Multi) MarkPaired(positions ...domain.Position) {
	for _, p := range m {
		p.MarkPaired(positions...)
	}
}

func (m Multi) MarkWrong(positions ...domain.Position) {
	for _, p := range m {
		p.MarkWrong(positions...)
	}
}

func (m Multi) UpdateScore(score int) {
	for _, p := range m {
		p.UpdateScore(score)
	}
}

func (m Multi) UpdateTriedTimes(times int) {
	for _, p := range m {
		p.UpdateTriedTimes(times)
	}
}

func (m Multi) AnnounceCompletion(score int, triedTimes int) {
	for _, p := range m {
		p.AnnounceCompletion(score, triedTimes)
	}
}

// Call is one recorded presenter invocation.
type Call struct {
	Method     string
	Deck       domain.Deck
	Positions  []domain.Position
	FaceUp     bool
	Card       *domain.Card
	Score      int
	TriedTimes int
}

// Recorder keeps every call it receives. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) RenderDeck(deck domain.Deck) {
	r.record(Call{Method: "RenderDeck", Deck: deck.Clone()})
}

func (r *Recorder) SetFace(position domain.Position, faceUp bool, card *domain.Card) {
	var cloned *domain.Card
	if card != nil {
		c := *card
		cloned = &c
	}
	r.record(Call{Method: "SetFace", Positions: []domain.Position{position}, FaceUp: faceUp, Card: cloned})
}

func (r *Recorder) MarkPaired(positions ...domain.Position) {
	r.record(Call{Method: "MarkPaired", Positions: append([]domain.Position(nil), positions...)})
}

func (r *Recorder) MarkWrong(positions ...domain.Position) {
	r.record(Call{Method: "MarkWrong", Positions: append([]domain.Position(nil), positions...)})
}

func (r *Recorder) UpdateScore(score int) {
	r.record(Call{Method: "UpdateScore", Score: score})
}

func (r *Recorder) UpdateTriedTimes(times int) {
	r.record(Call{Method: "UpdateTriedTimes", TriedTimes: times})
}

func (r *Recorder) AnnounceCompletion(score int, triedTimes int) {
	r.record(Call{Method: "AnnounceCompletion", Score: score, TriedTimes: triedTimes})
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func (r *Recorder) record(call Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}
