package rules

import (
	"testing"

	"github.com/imaddar/pair-match/internal/domain"
)

func TestIsMatchAgreesWithRankEquality(t *testing.T) {
	t.Parallel()

	for a := domain.Position(0); a < domain.DeckSize; a++ {
		for b := domain.Position(0); b < domain.DeckSize; b++ {
			if a == b {
				continue
			}
			want := domain.RankOf(a) == domain.RankOf(b)
			if got := IsMatch(a, b); got != want {
				t.Fatalf("IsMatch(%d, %d): expected %v, got %v", a, b, want, got)
			}
		}
	}
}

func TestIsMatchIgnoresSuit(t *testing.T) {
	t.Parallel()

	if !IsMatch(0, 13) {
		t.Fatal("expected A♠ and A♥ to match")
	}
	if IsMatch(0, 1) {
		t.Fatal("expected A♠ and 2♠ not to match")
	}
}

func TestSameRankListsOtherSuits(t *testing.T) {
	t.Parallel()

	got := SameRank(14)
	want := []domain.Position{1, 27, 40}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
		if !IsMatch(14, got[i]) {
			t.Fatalf("expected 14 to match %d", got[i])
		}
	}
}
