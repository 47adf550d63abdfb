package metainfo

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length of a SHA-1 digest: info hashes, piece hashes and peer ids.
const HashSize = 20

// Hash is a 20-byte SHA-1 digest.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses the 40-character hex form of a hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("invalid hash length %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hex-encoded hash: %w", err)
	}
	return h, nil
}
