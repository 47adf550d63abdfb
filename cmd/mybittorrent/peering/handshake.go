package peering

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/torrant-go/torrant/cmd/mybittorrent/metainfo"
)

const (
	ProtocolName  = "BitTorrent protocol"
	HandshakeSize = 1 + len(ProtocolName) + reservedSize + metainfo.HashSize + PeerIDSize

	reservedSize = 8
)

// WrongPrefixError is returned when the first handshake byte is not 19.
type WrongPrefixError struct {
	Prefix byte
}

func (e *WrongPrefixError) Error() string {
	return fmt.Sprintf("wrong handshake prefix %d", e.Prefix)
}

var ErrNoProtocolText = errors.New("the string 'BitTorrent protocol' not found in handshake")

// Handshake is the first message on every peer connection. The reserved bytes
// are written as zeros and ignored on receipt.
type Handshake struct {
	InfoHash metainfo.Hash
	PeerID   PeerID
}

// HandshakeCodec reads and writes the fixed 68-byte handshake.
type HandshakeCodec struct{}

// Decode never consumes part of a handshake: until all 68 bytes are present it
// reports NeedMore.
func (HandshakeCodec) Decode(src []byte) Decoded[Handshake] {
	if len(src) < HandshakeSize {
		return needMore[Handshake](HandshakeSize - len(src))
	}
	if src[0] != byte(len(ProtocolName)) {
		return invalid[Handshake](&WrongPrefixError{Prefix: src[0]})
	}
	pos := 1
	if string(src[pos:pos+len(ProtocolName)]) != ProtocolName {
		return invalid[Handshake](ErrNoProtocolText)
	}
	pos += len(ProtocolName) + reservedSize

	var h Handshake
	pos += copy(h.InfoHash[:], src[pos:])
	pos += copy(h.PeerID[:], src[pos:])
	return parsed(h, pos)
}

// DecodeBuffer decodes from buf and advances it past a parsed handshake.
func (c HandshakeCodec) DecodeBuffer(buf *bytes.Buffer) Decoded[Handshake] {
	return apply(buf, c.Decode(buf.Bytes()))
}

// Encode appends the wire form of h to dst.
func (HandshakeCodec) Encode(dst []byte, h Handshake) []byte {
	dst = append(dst, byte(len(ProtocolName)))
	dst = append(dst, ProtocolName...)
	dst = append(dst, make([]byte, reservedSize)...)
	dst = append(dst, h.InfoHash[:]...)
	return append(dst, h.PeerID[:]...)
}
