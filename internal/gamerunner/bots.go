package gamerunner

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

var ErrNoLegalReveal = errors.New("no legal reveal")

// MemoryBot remembers every card it has seen face up and takes a known pair
// whenever one is available. Otherwise it reveals the lowest unseen slot.
// Memory is reset whenever a view for a different session arrives.
type MemoryBot struct {
	mu        sync.Mutex
	sessionID string
	seen      map[int]domain.Rank
}

func NewMemoryBot() *MemoryBot {
	return &MemoryBot{seen: make(map[int]domain.Rank, domain.DeckSize)}
}

func (b *MemoryBot) Observe(view statemachine.View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetFor(view.SessionID)
	for _, sv := range view.Slots {
		if sv.Card != nil {
			b.seen[sv.Slot] = sv.Card.Rank
		}
	}
}

func (b *MemoryBot) NextReveal(_ context.Context, view statemachine.View) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetFor(view.SessionID)

	hidden := view.HiddenSlots()
	if len(hidden) == 0 {
		return 0, ErrNoLegalReveal
	}

	switch view.State {
	case domain.StateSecondCardAwaits:
		if len(view.RevealedSlots) == 1 {
			first := view.RevealedSlots[0]
			if rank, ok := b.seen[first]; ok {
				if slot, ok := b.knownHidden(hidden, rank, first); ok {
					return slot, nil
				}
			}
		}
	default:
		if slot, ok := b.knownPair(hidden); ok {
			return slot, nil
		}
	}

	for _, slot := range hidden {
		if _, known := b.seen[slot]; !known {
			return slot, nil
		}
	}
	return hidden[0], nil
}

func (b *MemoryBot) resetFor(sessionID string) {
	if sessionID == b.sessionID {
		return
	}
	b.sessionID = sessionID
	b.seen = make(map[int]domain.Rank, domain.DeckSize)
}

func (b *MemoryBot) knownHidden(hidden []int, rank domain.Rank, exclude int) (int, bool) {
	for _, slot := range hidden {
		if slot == exclude {
			continue
		}
		if seenRank, ok := b.seen[slot]; ok && seenRank == rank {
			return slot, true
		}
	}
	return 0, false
}

func (b *MemoryBot) knownPair(hidden []int) (int, bool) {
	bySlot := make(map[domain.Rank]int, len(hidden))
	for _, slot := range hidden {
		rank, ok := b.seen[slot]
		if !ok {
			continue
		}
		if _, dup := bySlot[rank]; dup {
			return bySlot[rank], true
		}
		bySlot[rank] = slot
	}
	return 0, false
}

// RandomBot picks uniformly among hidden slots. Deterministic per seed.
type RandomBot struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomBot(seed int64) *RandomBot {
	return &RandomBot{rng: rand.New(rand.NewSource(seed))}
}

func (b *RandomBot) NextReveal(_ context.Context, view statemachine.View) (int, error) {
	hidden := view.HiddenSlots()
	if len(hidden) == 0 {
		return 0, ErrNoLegalReveal
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return hidden[b.rng.Intn(len(hidden))], nil
}
