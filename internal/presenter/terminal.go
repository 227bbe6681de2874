package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/imaddar/pair-match/internal/domain"
)

const terminalColumns = domain.RanksPerSuit

// Terminal draws the table as a text grid. Hidden cards show their slot number
// so a player can type it back in.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer

	deck       domain.Deck
	faces      map[domain.Position]domain.Face
	wrong      map[domain.Position]struct{}
	score      int
	triedTimes int
	completed  bool
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w:     w,
		faces: make(map[domain.Position]domain.Face, domain.DeckSize),
		wrong: make(map[domain.Position]struct{}, 2),
	}
}

func (t *Terminal) RenderDeck(deck domain.Deck) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deck = deck.Clone()
	for _, p := range deck {
		t.faces[p] = domain.FaceHidden
	}
}

func (t *Terminal) SetFace(position domain.Position, faceUp bool, _ *domain.Card) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if faceUp {
		t.faces[position] = domain.FaceUp
		return
	}
	t.faces[position] = domain.FaceHidden
	delete(t.wrong, position)
}

func (t *Terminal) MarkPaired(positions ...domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range positions {
		t.faces[p] = domain.FacePaired
	}
}

func (t *Terminal) MarkWrong(positions ...domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	labels := make([]string, 0, len(positions))
	for _, p := range positions {
		t.wrong[p] = struct{}{}
		labels = append(labels, domain.CardAt(p).Label())
	}
	fmt.Fprintf(t.w, "  no match: %s\n", strings.Join(labels, " / "))
}

func (t *Terminal) UpdateScore(score int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.score = score
}

func (t *Terminal) UpdateTriedTimes(times int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.triedTimes = times
}

func (t *Terminal) AnnounceCompletion(score int, triedTimes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
	fmt.Fprintf(t.w, "\n  Complete!\n  Score: %d\n  You've tried: %d times\n", score, triedTimes)
}

// Render writes the current table.
func (t *Terminal) Render() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.w, t.board())
}

func (t *Terminal) board() string {
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Score: %d    You've tried: %d times\n", t.score, t.triedTimes)
	b.WriteString("  " + strings.Repeat("-", terminalColumns*6) + "\n")
	for slot, p := range t.deck {
		if slot%terminalColumns == 0 {
			b.WriteString("  ")
		}
		b.WriteString(t.cell(slot, p))
		if slot%terminalColumns == terminalColumns-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("  " + strings.Repeat("-", terminalColumns*6) + "\n")
	return b.String()
}

func (t *Terminal) cell(slot int, p domain.Position) string {
	label := domain.CardAt(p).Label()
	switch t.faces[p] {
	case domain.FaceUp:
		if _, wrong := t.wrong[p]; wrong {
			return fmt.Sprintf("!%-4s", label)
		}
		return fmt.Sprintf(" %-4s", label)
	case domain.FacePaired:
		return fmt.Sprintf("(%-3s)", label)
	default:
		return fmt.Sprintf("[%02d] ", slot)
	}
}
