package statemachine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/rules"
)

func TestNewSessionStartsInFirstCardAwaits(t *testing.T) {
	t.Parallel()

	session, commands, err := NewSession(NewSessionInput{Shuffler: rules.NewSeededShuffler(3)})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if session.State != domain.StateFirstCardAwaits {
		t.Fatalf("expected state %q, got %q", domain.StateFirstCardAwaits, session.State)
	}
	if session.ID == "" {
		t.Fatal("expected generated session id")
	}
	if err := session.Deck.Validate(); err != nil {
		t.Fatalf("dealt deck invalid: %v", err)
	}
	if len(session.Revealed) != 0 || session.Score != 0 || session.TriedTimes != 0 {
		t.Fatalf("expected empty counters, got revealed=%v score=%d tried=%d", session.Revealed, session.Score, session.TriedTimes)
	}
	if session.RecoveryDelayMS != domain.DefaultMismatchDelayMS {
		t.Fatalf("expected default delay %d, got %d", domain.DefaultMismatchDelayMS, session.RecoveryDelayMS)
	}
	if len(commands) == 0 || commands[0].Kind != CommandRenderDeck {
		t.Fatalf("expected render_deck first, got %+v", commands)
	}
	if !reflect.DeepEqual(commands[0].Deck, session.Deck) {
		t.Fatal("render_deck must carry the session deck")
	}
}

func TestNewSessionRejectsInvalidDeck(t *testing.T) {
	t.Parallel()

	deck := domain.OrderedDeck()
	deck[0] = deck[1]
	_, _, err := NewSession(NewSessionInput{Deck: deck})
	if !errors.Is(err, domain.ErrInvalidDeck) {
		t.Fatalf("expected ErrInvalidDeck, got %v", err)
	}
}

func TestFirstRevealMovesToSecondCardAwaits(t *testing.T) {
	t.Parallel()

	session := orderedSession(t)
	next, commands, err := Apply(session, Reveal(0))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if next.State != domain.StateSecondCardAwaits {
		t.Fatalf("expected %q, got %q", domain.StateSecondCardAwaits, next.State)
	}
	if len(next.Revealed) != 1 || next.Revealed[0] != 0 {
		t.Fatalf("expected revealed buffer [0], got %v", next.Revealed)
	}
	if next.Faces[0] != domain.FaceUp {
		t.Fatalf("expected position 0 face up, got %q", next.Faces[0])
	}
	if len(commands) != 1 || commands[0].Kind != CommandSetFace || !commands[0].FaceUp {
		t.Fatalf("expected a single face-up set_face, got %+v", commands)
	}
	if commands[0].Card == nil || commands[0].Card.Label() != "A♠" {
		t.Fatalf("expected A♠ content, got %+v", commands[0].Card)
	}
}

func TestMatchingPairScoresAndReturnsToFirstCard(t *testing.T) {
	t.Parallel()

	session := mustApply(t, orderedSession(t), Reveal(0))
	next, step, err := Transition(session, Reveal(13))
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	if next.Score != 10 {
		t.Fatalf("expected score 10, got %d", next.Score)
	}
	if next.TriedTimes != 1 {
		t.Fatalf("expected tried times 1, got %d", next.TriedTimes)
	}
	if next.Faces[0] != domain.FacePaired || next.Faces[13] != domain.FacePaired {
		t.Fatalf("expected both positions paired, got %q and %q", next.Faces[0], next.Faces[13])
	}
	if len(next.Revealed) != 0 {
		t.Fatalf("expected empty revealed buffer, got %v", next.Revealed)
	}
	if next.State != domain.StateFirstCardAwaits {
		t.Fatalf("expected %q, got %q", domain.StateFirstCardAwaits, next.State)
	}
	if step.From != domain.StateSecondCardAwaits || step.To != domain.StateFirstCardAwaits {
		t.Fatalf("unexpected step endpoints %q -> %q", step.From, step.To)
	}
	if !reflect.DeepEqual(step.Through, []domain.GameState{domain.StateCardMatched}) {
		t.Fatalf("expected transient CardMatched, got %v", step.Through)
	}

	wantKinds := []CommandKind{CommandUpdateTriedTimes, CommandSetFace, CommandUpdateScore, CommandMarkPaired}
	if got := kinds(step.Commands); !reflect.DeepEqual(got, wantKinds) {
		t.Fatalf("expected commands %v, got %v", wantKinds, got)
	}
}

func TestMismatchWaitsForRecovery(t *testing.T) {
	t.Parallel()

	session := mustApply(t, orderedSession(t), Reveal(0))
	failed, commands, err := Apply(session, Reveal(1))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if failed.State != domain.StateCardMatchFailed {
		t.Fatalf("expected %q, got %q", domain.StateCardMatchFailed, failed.State)
	}
	if failed.TriedTimes != 1 || failed.Score != 0 {
		t.Fatalf("expected tried=1 score=0, got tried=%d score=%d", failed.TriedTimes, failed.Score)
	}
	if len(failed.Revealed) != 2 {
		t.Fatalf("expected 2 buffered positions, got %v", failed.Revealed)
	}
	delay, ok := RecoveryDelay(commands)
	if !ok || delay != domain.DefaultMismatchDelayMS {
		t.Fatalf("expected schedule_recovery(%d), got ok=%v delay=%d", domain.DefaultMismatchDelayMS, ok, delay)
	}
	wrong := findCommand(t, commands, CommandMarkWrong)
	if !reflect.DeepEqual(wrong.Positions, []domain.Position{0, 1}) {
		t.Fatalf("expected mark_wrong(0, 1), got %v", wrong.Positions)
	}

	recovered, commands, err := Apply(failed, Recover())
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if recovered.State != domain.StateFirstCardAwaits {
		t.Fatalf("expected %q after recovery, got %q", domain.StateFirstCardAwaits, recovered.State)
	}
	if len(recovered.Revealed) != 0 {
		t.Fatalf("expected empty buffer after recovery, got %v", recovered.Revealed)
	}
	if recovered.Faces[0] != domain.FaceHidden || recovered.Faces[1] != domain.FaceHidden {
		t.Fatalf("expected both hidden, got %q and %q", recovered.Faces[0], recovered.Faces[1])
	}
	if recovered.TriedTimes != 1 {
		t.Fatalf("expected tried times to stay 1, got %d", recovered.TriedTimes)
	}
	if len(commands) != 2 {
		t.Fatalf("expected two set_face commands, got %+v", commands)
	}
	for _, cmd := range commands {
		if cmd.Kind != CommandSetFace || cmd.FaceUp || cmd.Card != nil {
			t.Fatalf("expected face-down set_face, got %+v", cmd)
		}
	}
}

func TestRevealDuringPendingRecoveryIsRejected(t *testing.T) {
	t.Parallel()

	failed := mustApply(t, mustApply(t, orderedSession(t), Reveal(0)), Reveal(1))

	next, commands, err := Apply(failed, Reveal(2))
	if !errors.Is(err, ErrRecoveryPending) {
		t.Fatalf("expected ErrRecoveryPending, got %v", err)
	}
	if commands != nil {
		t.Fatalf("expected no commands, got %+v", commands)
	}
	if !reflect.DeepEqual(next, failed) {
		t.Fatal("expected session unchanged after rejected reveal")
	}
}

func TestRejectedRevealsLeaveSessionUntouched(t *testing.T) {
	t.Parallel()

	base := mustApply(t, orderedSession(t), Reveal(5))
	paired := mustApply(t, mustApply(t, orderedSession(t), Reveal(0)), Reveal(13))

	cases := []struct {
		name    string
		session Session
		event   Event
		want    error
	}{
		{"face up", base, Reveal(5), ErrCardFaceUp},
		{"already paired", paired, Reveal(13), ErrCardPaired},
		{"negative position", base, Reveal(-1), domain.ErrPositionOutOfRange},
		{"position too large", base, Reveal(52), domain.ErrPositionOutOfRange},
		{"recover without mismatch", base, Recover(), ErrNoPendingRecovery},
		{"unknown event", base, Event{Kind: "shuffle"}, ErrUnknownEvent},
		{"zero session", Session{}, Reveal(0), ErrInvalidSession},
	}

	for _, tc := range cases {
		next, commands, err := Apply(tc.session, tc.event)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if commands != nil {
			t.Fatalf("%s: expected no commands, got %+v", tc.name, commands)
		}
		if !reflect.DeepEqual(next, tc.session) {
			t.Fatalf("%s: session mutated", tc.name)
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	session := mustApply(t, orderedSession(t), Reveal(0))
	snapshot := cloneSession(session)

	if _, _, err := Apply(session, Reveal(13)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !reflect.DeepEqual(session, snapshot) {
		t.Fatal("Apply mutated its input session")
	}
}

func TestFullGameFinishesAt260AndRejectsFurtherReveals(t *testing.T) {
	t.Parallel()

	session := orderedSession(t)
	var last []Command
	for rank := 0; rank < domain.RanksPerSuit; rank++ {
		for _, pair := range [][2]domain.Position{
			{domain.Position(rank), domain.Position(rank + 13)},
			{domain.Position(rank + 26), domain.Position(rank + 39)},
		} {
			session = mustApply(t, session, Reveal(pair[0]))
			var err error
			session, last, err = Apply(session, Reveal(pair[1]))
			if err != nil {
				t.Fatalf("reveal %d failed: %v", pair[1], err)
			}
		}
	}

	if session.Score != domain.WinningScore {
		t.Fatalf("expected score %d, got %d", domain.WinningScore, session.Score)
	}
	if session.Matches != domain.PairCount {
		t.Fatalf("expected %d matches, got %d", domain.PairCount, session.Matches)
	}
	if session.State != domain.StateGameFinished {
		t.Fatalf("expected %q, got %q", domain.StateGameFinished, session.State)
	}
	if session.TriedTimes != domain.PairCount {
		t.Fatalf("expected %d tries, got %d", domain.PairCount, session.TriedTimes)
	}
	done := findCommand(t, last, CommandAnnounceCompletion)
	if done.Score != domain.WinningScore || done.TriedTimes != domain.PairCount {
		t.Fatalf("unexpected completion payload %+v", done)
	}

	for p := domain.Position(0); p < domain.DeckSize; p++ {
		next, commands, err := Apply(session, Reveal(p))
		if !errors.Is(err, ErrGameFinished) {
			t.Fatalf("reveal %d after finish: expected ErrGameFinished, got %v", p, err)
		}
		if commands != nil || !reflect.DeepEqual(next, session) {
			t.Fatalf("reveal %d after finish mutated state or emitted commands", p)
		}
	}
}

func TestScoreAlwaysTenTimesMatches(t *testing.T) {
	t.Parallel()

	session, _, err := NewSession(NewSessionInput{Shuffler: rules.NewSeededShuffler(99)})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	// Every other attempt deliberately misses so both branches are exercised.
	for attempt := 0; !session.IsFinished() && attempt < 1_000; attempt++ {
		first := firstHidden(session, func(domain.Position) bool { return true })
		session = mustApply(t, session, Reveal(first))

		second := firstHidden(session, func(p domain.Position) bool {
			return rules.IsMatch(first, p) == (attempt%2 == 0)
		})
		if second < 0 {
			second = firstHidden(session, func(p domain.Position) bool { return rules.IsMatch(first, p) })
		}
		session = mustApply(t, session, Reveal(second))
		if len(session.Revealed) > 2 {
			t.Fatalf("revealed buffer exceeded 2: %v", session.Revealed)
		}
		if session.State == domain.StateCardMatchFailed {
			session = mustApply(t, session, Recover())
		}
		if session.Score != domain.PointsPerMatch*session.Matches {
			t.Fatalf("score %d != 10 x matches %d", session.Score, session.Matches)
		}
		if session.TriedTimes != attempt+1 {
			t.Fatalf("expected %d tries, got %d", attempt+1, session.TriedTimes)
		}
	}
	if !session.IsFinished() {
		t.Fatal("expected play to finish the game")
	}
}

func firstHidden(session Session, accept func(domain.Position) bool) domain.Position {
	for _, p := range session.Deck {
		if session.Faces[p] == domain.FaceHidden && accept(p) {
			return p
		}
	}
	return -1
}

func orderedSession(t *testing.T) Session {
	t.Helper()
	session, _, err := NewSession(NewSessionInput{ID: "session-1", Deck: domain.OrderedDeck()})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return session
}

func mustApply(t *testing.T, session Session, event Event) Session {
	t.Helper()
	next, _, err := Apply(session, event)
	if err != nil {
		t.Fatalf("Apply(%+v) failed: %v", event, err)
	}
	return next
}

func findCommand(t *testing.T, commands []Command, kind CommandKind) Command {
	t.Helper()
	for _, cmd := range commands {
		if cmd.Kind == kind {
			return cmd
		}
	}
	t.Fatalf("command %q not found in %+v", kind, commands)
	return Command{}
}

func kinds(commands []Command) []CommandKind {
	out := make([]CommandKind, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, cmd.Kind)
	}
	return out
}
