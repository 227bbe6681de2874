package rules

import (
	cryptorand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/imaddar/pair-match/internal/domain"
)

type Shuffler interface {
	Shuffle([]domain.Position) error
}

type cryptoShuffler struct{}

type seededShuffler struct {
	rng *rand.Rand
}

func NewCryptoShuffler() Shuffler {
	return cryptoShuffler{}
}

func NewSeededShuffler(seed int64) Shuffler {
	return seededShuffler{rng: rand.New(rand.NewSource(seed))}
}

// Fisher-Yates from the last index down to 1; slices of length <= 1 are left as-is.
func (s cryptoShuffler) Shuffle(positions []domain.Position) error {
	for i := len(positions) - 1; i > 0; i-- {
		n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("crypto shuffle failed: %w", err)
		}
		j := int(n.Int64())
		positions[i], positions[j] = positions[j], positions[i]
	}
	return nil
}

func (s seededShuffler) Shuffle(positions []domain.Position) error {
	for i := len(positions) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		positions[i], positions[j] = positions[j], positions[i]
	}
	return nil
}

// Deal returns a freshly shuffled deck. A nil shuffler uses crypto/rand.
func Deal(shuffler Shuffler) (domain.Deck, error) {
	if shuffler == nil {
		shuffler = NewCryptoShuffler()
	}
	deck := domain.OrderedDeck()
	if err := shuffler.Shuffle(deck); err != nil {
		return nil, err
	}
	if err := deck.Validate(); err != nil {
		return nil, fmt.Errorf("shuffle produced invalid deck: %w", err)
	}
	return deck, nil
}
