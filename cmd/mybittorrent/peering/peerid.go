package peering

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const PeerIDSize = 20

// DefaultPeerIDPrefix is the Azureus-style client tag put in front of generated ids.
const DefaultPeerIDPrefix = "-TR0001-"

const alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// PeerID identifies a client to trackers and peers.
type PeerID [PeerIDSize]byte

func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Source supplies the randomness behind peer ids, transaction ids and
// announce keys. *math/rand.Rand satisfies it.
type Source interface {
	Uint32() uint32
}

// CryptoSource draws from crypto/rand. It is safe for concurrent use.
type CryptoSource struct{}

func (CryptoSource) Uint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint32(b[:])
}

// NewPeerID returns prefix followed by random alphanumerics.
func NewPeerID(prefix string, src Source) (PeerID, error) {
	var id PeerID
	if len(prefix) > PeerIDSize {
		return id, fmt.Errorf("peer id prefix %q longer than %d bytes", prefix, PeerIDSize)
	}
	n := copy(id[:], prefix)
	for i := n; i < PeerIDSize; i++ {
		id[i] = alphanumeric[src.Uint32()%uint32(len(alphanumeric))]
	}
	return id, nil
}
