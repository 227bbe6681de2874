package domain

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	DeckSize       = 52
	RanksPerSuit   = 13
	SuitCount      = 4
	PairCount      = DeckSize / 2
	PointsPerMatch = 10
	WinningScore   = PairCount * PointsPerMatch

	DefaultMismatchDelayMS uint64 = 1_000
)

var (
	ErrPositionOutOfRange = errors.New("card position out of range")
	ErrSlotOutOfRange     = errors.New("deck slot out of range")
	ErrInvalidDeck        = errors.New("deck is not a permutation of all positions")
	ErrInvalidDelay       = errors.New("mismatch delay must be greater than zero")
)

// Position identifies one of the 52 cards. Rank and suit are derived from it.
type Position int

func NewPosition(value int) (Position, error) {
	p := Position(value)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: position must be in range 0..=%d, got %d", ErrPositionOutOfRange, DeckSize-1, value)
	}
	return p, nil
}

func (p Position) Valid() bool {
	return p >= 0 && p < DeckSize
}

type Rank uint8

const (
	RankAce   Rank = 1
	RankJack  Rank = 11
	RankQueen Rank = 12
	RankKing  Rank = 13
)

func RankOf(p Position) Rank {
	return Rank(int(p)%RanksPerSuit + 1)
}

func (r Rank) String() string {
	return DisplayRank(r)
}

// DisplayRank renders 1, 11, 12 and 13 as A, J, Q and K.
func DisplayRank(r Rank) string {
	switch r {
	case RankAce:
		return "A"
	case RankJack:
		return "J"
	case RankQueen:
		return "Q"
	case RankKing:
		return "K"
	default:
		return strconv.Itoa(int(r))
	}
}

type Suit uint8

const (
	SuitSpades Suit = iota
	SuitHearts
	SuitDiamonds
	SuitClubs
)

func SuitOf(p Position) Suit {
	return Suit(int(p) / RanksPerSuit)
}

func (s Suit) String() string {
	switch s {
	case SuitSpades:
		return "spades"
	case SuitHearts:
		return "hearts"
	case SuitDiamonds:
		return "diamonds"
	case SuitClubs:
		return "clubs"
	default:
		return "unknown"
	}
}

func (s Suit) Symbol() string {
	switch s {
	case SuitSpades:
		return "♠"
	case SuitHearts:
		return "♥"
	case SuitDiamonds:
		return "♦"
	case SuitClubs:
		return "♣"
	default:
		return "?"
	}
}

type Card struct {
	Position Position `json:"position"`
	Rank     Rank     `json:"rank"`
	Suit     Suit     `json:"suit"`
}

func CardAt(p Position) Card {
	return Card{Position: p, Rank: RankOf(p), Suit: SuitOf(p)}
}

func (c Card) Label() string {
	return DisplayRank(c.Rank) + c.Suit.Symbol()
}

// Deck holds one session's layout: slot i on the table shows Deck[i].
type Deck []Position

func OrderedDeck() Deck {
	deck := make(Deck, DeckSize)
	for i := range deck {
		deck[i] = Position(i)
	}
	return deck
}

func (d Deck) Validate() error {
	if len(d) != DeckSize {
		return fmt.Errorf("%w: expected %d slots, got %d", ErrInvalidDeck, DeckSize, len(d))
	}
	var seen [DeckSize]bool
	for slot, p := range d {
		if !p.Valid() {
			return fmt.Errorf("%w: slot %d holds position %d", ErrInvalidDeck, slot, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: position %d appears twice", ErrInvalidDeck, p)
		}
		seen[p] = true
	}
	return nil
}

func (d Deck) PositionAt(slot int) (Position, error) {
	if slot < 0 || slot >= len(d) {
		return 0, fmt.Errorf("%w: slot must be in range 0..=%d, got %d", ErrSlotOutOfRange, len(d)-1, slot)
	}
	return d[slot], nil
}

func (d Deck) SlotOf(p Position) (int, bool) {
	for slot, candidate := range d {
		if candidate == p {
			return slot, true
		}
	}
	return 0, false
}

func (d Deck) Clone() Deck {
	return append(Deck(nil), d...)
}

type Face string

const (
	FaceHidden Face = "hidden"
	FaceUp     Face = "face_up"
	FacePaired Face = "paired"
)

type GameState string

const (
	StateFirstCardAwaits  GameState = "FirstCardAwaits"
	StateSecondCardAwaits GameState = "SecondCardAwaits"
	StateCardMatchFailed  GameState = "CardMatchFailed"
	StateCardMatched      GameState = "CardMatched"
	StateGameFinished     GameState = "GameFinished"
)

func (s GameState) IsTerminal() bool {
	return s == StateGameFinished
}

type SessionConfig struct {
	MismatchDelayMS uint64 `json:"mismatch_delay_ms"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{MismatchDelayMS: DefaultMismatchDelayMS}
}

func (c SessionConfig) Validate() error {
	if c.MismatchDelayMS == 0 {
		return ErrInvalidDelay
	}
	return nil
}

func NewSessionID() string {
	return uuid.NewString()
}
