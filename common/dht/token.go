package dht

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Token is a point in a table's hashed key space. Tokens order rows on the
// ring; they compare as signed 64-bit integers.
type Token int64

const (
	// MinimumToken is a lower-bound sentinel which sorts before every key's
	// token. It is never produced by TokenForKey.
	MinimumToken Token = math.MinInt64

	// FirstToken is the smallest token a key can hash to.
	FirstToken Token = MinimumToken + 1

	MaximumToken Token = math.MaxInt64
)

const tokenBits = 64

// unbias maps a token to an unsigned value with the same ordering, so the
// ring can be cut with plain shifts on the high-order bits.
func unbias(t Token) uint64 {
	return uint64(t) ^ (1 << (tokenBits - 1))
}

func bias(u uint64) Token {
	return Token(u ^ (1 << (tokenBits - 1)))
}

// TokenForKey hashes a partition key onto the ring.
func TokenForKey(key []byte) Token {
	t := Token(xxhash.Sum64(key))
	if t == MinimumToken {
		return FirstToken
	}
	return t
}

// NextToken returns the ring successor of t, saturating at MaximumToken.
func NextToken(t Token) Token {
	if t == MaximumToken {
		return MaximumToken
	}
	return t + 1
}

// TabletOf returns the index of the tablet owning t when the ring is split
// into 1<<log2Count equal tablets. Total over the whole token space.
func TabletOf(log2Count uint, t Token) uint64 {
	return unbias(t) >> (tokenBits - log2Count)
}

// LastTokenOf returns the largest token owned by the given tablet when the
// ring is split into 1<<log2Count equal tablets.
func LastTokenOf(log2Count uint, tablet uint64) Token {
	if tablet == (uint64(1)<<log2Count)-1 {
		return MaximumToken
	}
	width := uint64(1) << (tokenBits - log2Count)
	return bias((tablet+1)*width - 1)
}

func (t Token) String() string {
	return fmt.Sprintf("%d", int64(t))
}
