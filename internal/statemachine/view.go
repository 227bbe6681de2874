package statemachine

import "github.com/imaddar/pair-match/internal/domain"

// SlotView is what a player can see at one table slot. Card is nil while hidden.
type SlotView struct {
	Slot int          `json:"slot"`
	Face domain.Face  `json:"face"`
	Card *domain.Card `json:"card,omitempty"`
}

type View struct {
	SessionID     string           `json:"session_id"`
	State         domain.GameState `json:"state"`
	Score         int              `json:"score"`
	TriedTimes    int              `json:"tried_times"`
	Matches       int              `json:"matches"`
	Slots         []SlotView       `json:"slots"`
	RevealedSlots []int            `json:"revealed_slots"`
}

func NewView(session Session) View {
	view := View{
		SessionID:     session.ID,
		State:         session.State,
		Score:         session.Score,
		TriedTimes:    session.TriedTimes,
		Matches:       session.Matches,
		Slots:         make([]SlotView, 0, len(session.Deck)),
		RevealedSlots: make([]int, 0, len(session.Revealed)),
	}
	for slot, p := range session.Deck {
		sv := SlotView{Slot: slot, Face: session.Faces[p]}
		if sv.Face != domain.FaceHidden {
			card := domain.CardAt(p)
			sv.Card = &card
		}
		view.Slots = append(view.Slots, sv)
	}
	for _, p := range session.Revealed {
		if slot, ok := session.Deck.SlotOf(p); ok {
			view.RevealedSlots = append(view.RevealedSlots, slot)
		}
	}
	return view
}

func (v View) HiddenSlots() []int {
	out := make([]int, 0, len(v.Slots))
	for _, sv := range v.Slots {
		if sv.Face == domain.FaceHidden {
			out = append(out, sv.Slot)
		}
	}
	return out
}

// AcceptsReveal reports whether a reveal at slot would currently be accepted.
func (v View) AcceptsReveal(slot int) bool {
	if v.State != domain.StateFirstCardAwaits && v.State != domain.StateSecondCardAwaits {
		return false
	}
	return slot >= 0 && slot < len(v.Slots) && v.Slots[slot].Face == domain.FaceHidden
}
