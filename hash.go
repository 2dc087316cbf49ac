package lineage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// HashSize is the width in bytes of an exact hash.
// SHA2-256 is truncated to this many bytes.
// That is plenty for deduplication within one store
// and keeps object paths and bucket files short,
// but it is not a defense against a deliberate collision.
const HashSize = 16

type (
	// Hash is the exact hash of an object's content.
	Hash [HashSize]byte

	// SimHash is the similarity hash of an object:
	// eight 4-bit nibbles quantizing entropy, negentropy, five structural features,
	// and a checksum.
	// It is lossy and must never be used to decide that two objects are equal.
	SimHash uint32
)

// Zero is the zero value of a Hash.
var Zero Hash

// ExactHash computes the Hash of some content.
func ExactHash(content []byte) Hash {
	sum := sha256.Sum256(content)
	var h Hash
	copy(h[:], sum[:])
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero tells whether h is the zero Hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Less tells whether h sorts before other.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	got, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = got
	return nil
}

// HashFromHex parses the hex encoding of a Hash.
func HashFromHex(s string) (Hash, error) {
	var out Hash
	if len(s) != 2*HashSize {
		return out, fmt.Errorf("hash %q has wrong length %d (want %d)", s, len(s), 2*HashSize)
	}
	_, err := hex.Decode(out[:], []byte(s))
	return out, errors.Wrapf(err, "decoding hash %s", s)
}

// SimHashWidth is the number of hex digits in a SimHash.
const SimHashWidth = 8

// BucketWidth is the number of leading hex digits of a SimHash
// that select its similarity bucket.
const BucketWidth = 4

func (s SimHash) String() string {
	return fmt.Sprintf("%08x", uint32(s))
}

// Bucket is the similarity bucket key for s.
func (s SimHash) Bucket() string {
	return s.String()[:BucketWidth]
}

// Nibble returns the i'th 4-bit digit of s,
// counting from 0 at the most significant end.
func (s SimHash) Nibble(i int) uint8 {
	return uint8(uint32(s)>>(4*(SimHashWidth-1-i))) & 0xf
}

// Agreement is the fraction of hex digits that s and other have in common,
// position by position.
func (s SimHash) Agreement(other SimHash) float64 {
	var same int
	for i := 0; i < SimHashWidth; i++ {
		if s.Nibble(i) == other.Nibble(i) {
			same++
		}
	}
	return float64(same) / SimHashWidth
}

// MarshalText implements encoding.TextMarshaler.
func (s SimHash) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SimHash) UnmarshalText(text []byte) error {
	got, err := SimHashFromHex(string(text))
	if err != nil {
		return err
	}
	*s = got
	return nil
}

// SimHashFromHex parses the hex encoding of a SimHash.
func SimHashFromHex(str string) (SimHash, error) {
	if len(str) != SimHashWidth {
		return 0, fmt.Errorf("similarity hash %q has wrong length %d (want %d)", str, len(str), SimHashWidth)
	}
	n, err := strconv.ParseUint(str, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "decoding similarity hash %s", str)
	}
	return SimHash(n), nil
}

// IsBucket tells whether s is a well-formed similarity bucket key.
func IsBucket(s string) bool {
	if len(s) != BucketWidth {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9') && !('a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
