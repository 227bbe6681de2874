package rules

import "github.com/imaddar/pair-match/internal/domain"

// IsMatch reports whether two distinct positions share a rank. Suit is ignored.
func IsMatch(a, b domain.Position) bool {
	return domain.RankOf(a) == domain.RankOf(b)
}

// SameRank returns the other three positions holding p's rank, in suit order.
func SameRank(p domain.Position) []domain.Position {
	out := make([]domain.Position, 0, domain.SuitCount-1)
	offset := int(p) % domain.RanksPerSuit
	for suit := 0; suit < domain.SuitCount; suit++ {
		candidate := domain.Position(suit*domain.RanksPerSuit + offset)
		if candidate != p {
			out = append(out, candidate)
		}
	}
	return out
}
