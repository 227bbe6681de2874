package presenter

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

func TestDispatchMapsCommandsInOrder(t *testing.T) {
	t.Parallel()

	session, commands, err := statemachine.NewSession(statemachine.NewSessionInput{Deck: domain.OrderedDeck()})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	rec := &Recorder{}
	Dispatch(rec, commands)

	session, commands = apply(t, session, statemachine.Reveal(0))
	Dispatch(rec, commands)
	_, commands = apply(t, session, statemachine.Reveal(1))
	Dispatch(rec, commands)

	var methods []string
	for _, call := range rec.Calls() {
		methods = append(methods, call.Method)
	}
	want := []string{
		"RenderDeck", "UpdateScore", "UpdateTriedTimes",
		"SetFace",
		"UpdateTriedTimes", "SetFace", "MarkWrong",
	}
	if !reflect.DeepEqual(methods, want) {
		t.Fatalf("expected %v, got %v", want, methods)
	}

	calls := rec.Calls()
	if !calls[3].FaceUp || calls[3].Card == nil || calls[3].Card.Position != 0 {
		t.Fatalf("expected face-up SetFace with card 0, got %+v", calls[3])
	}
	if !reflect.DeepEqual(calls[6].Positions, []domain.Position{0, 1}) {
		t.Fatalf("expected MarkWrong(0, 1), got %v", calls[6].Positions)
	}
}

func TestDispatchSkipsScheduleRecoveryAndNilPresenter(t *testing.T) {
	t.Parallel()

	commands := []statemachine.Command{{Kind: statemachine.CommandScheduleRecovery, DelayMS: 1000}}
	rec := &Recorder{}
	Dispatch(rec, commands)
	if len(rec.Calls()) != 0 {
		t.Fatalf("expected no presenter calls, got %+v", rec.Calls())
	}
	Dispatch(nil, commands)
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := &Recorder{}, &Recorder{}
	Dispatch(Multi{a, b}, []statemachine.Command{{Kind: statemachine.CommandUpdateScore, Score: 20}})
	if len(a.Calls()) != 1 || len(b.Calls()) != 1 {
		t.Fatalf("expected one call each, got %d and %d", len(a.Calls()), len(b.Calls()))
	}
	if b.Calls()[0].Score != 20 {
		t.Fatalf("expected score 20, got %d", b.Calls()[0].Score)
	}
}

func TestTerminalRendersFacesAndCompletion(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminal(&out)

	session, commands, err := statemachine.NewSession(statemachine.NewSessionInput{Deck: domain.OrderedDeck()})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	Dispatch(term, commands)
	session, commands = apply(t, session, statemachine.Reveal(0))
	Dispatch(term, commands)
	_, commands = apply(t, session, statemachine.Reveal(13))
	Dispatch(term, commands)
	term.Render()

	board := out.String()
	if !strings.Contains(board, "Score: 10") {
		t.Fatalf("expected score line, got:\n%s", board)
	}
	if !strings.Contains(board, "(A♠") || !strings.Contains(board, "(A♥") {
		t.Fatalf("expected paired aces, got:\n%s", board)
	}
	if !strings.Contains(board, "[01]") {
		t.Fatalf("expected hidden slot 1 placeholder, got:\n%s", board)
	}

	term.AnnounceCompletion(260, 40)
	if !strings.Contains(out.String(), "You've tried: 40 times") {
		t.Fatalf("expected completion text, got:\n%s", out.String())
	}
}

func apply(t *testing.T, session statemachine.Session, event statemachine.Event) (statemachine.Session, []statemachine.Command) {
	t.Helper()
	next, commands, err := statemachine.Apply(session, event)
	if err != nil {
		t.Fatalf("Apply(%+v) failed: %v", event, err)
	}
	return next, commands
}
