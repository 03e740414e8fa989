package normalize

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// KeyStrategy selects how surrogate keys are minted.
type KeyStrategy string

const (
	// KeysUUID takes the first KeyLength hex digits of a random UUIDv4. Keys
	// are unique across every dimension of one run.
	KeysUUID KeyStrategy = "uuid"

	// KeysSequence numbers the entries of each dimension 1..n.
	KeysSequence KeyStrategy = "sequence"
)

const (
	DefaultKeyLength = 8
	maxKeyLength     = 32
)

// maxRedraws bounds uuid redraws on prefix collision. Hitting it means the
// key length is too short for the number of entries.
const maxRedraws = 1000

// keyMinter issues surrogate keys for one normalization run.
type keyMinter struct {
	strategy KeyStrategy
	length   int
	rand     io.Reader
	issued   map[string]struct{}
}

func newKeyMinter(strategy KeyStrategy, length int, r io.Reader) (*keyMinter, error) {
	if strategy == "" {
		strategy = KeysUUID
	}
	if length <= 0 {
		length = DefaultKeyLength
	}
	switch strategy {
	case KeysUUID:
		if length > maxKeyLength {
			return nil, fmt.Errorf("normalize: key length %d exceeds %d hex digits", length, maxKeyLength)
		}
	case KeysSequence:
	default:
		return nil, fmt.Errorf("normalize: unknown key strategy %q", strategy)
	}
	if r == nil {
		r = rand.Reader
	}
	return &keyMinter{
		strategy: strategy,
		length:   length,
		rand:     r,
		issued:   make(map[string]struct{}),
	}, nil
}

// next returns the key for the n-th (zero-based) entry of a dimension.
func (m *keyMinter) next(n int) (string, error) {
	if m.strategy == KeysSequence {
		return strconv.Itoa(n + 1), nil
	}
	for i := 0; i < maxRedraws; i++ {
		id, err := uuid.NewRandomFromReader(m.rand)
		if err != nil {
			return "", fmt.Errorf("normalize: draw uuid: %w", err)
		}
		k := strings.ReplaceAll(id.String(), "-", "")[:m.length]
		if _, dup := m.issued[k]; dup {
			continue
		}
		m.issued[k] = struct{}{}
		return k, nil
	}
	return "", fmt.Errorf("normalize: no unique %d-digit key after %d draws", m.length, maxRedraws)
}
