package peering

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const lengthPrefixSize = 4

// MessageID is the one-byte type tag of a peer wire message. Keep-alive has no
// tag on the wire and uses IDKeepAlive.
type MessageID int

const (
	IDKeepAlive     MessageID = -1
	IDChoke         MessageID = 0
	IDUnchoke       MessageID = 1
	IDInterested    MessageID = 2
	IDNotInterested MessageID = 3
	IDHave          MessageID = 4
	IDBitfield      MessageID = 5
	IDRequest       MessageID = 6
	IDPiece         MessageID = 7
	IDCancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case IDKeepAlive:
		return "keep-alive"
	case IDChoke:
		return "choke"
	case IDUnchoke:
		return "unchoke"
	case IDInterested:
		return "interested"
	case IDNotInterested:
		return "not interested"
	case IDHave:
		return "have"
	case IDBitfield:
		return "bitfield"
	case IDRequest:
		return "request"
	case IDPiece:
		return "piece"
	case IDCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", int(id))
	}
}

// Message is one framed unit of the peer wire protocol. The set of
// implementations is closed: KeepAlive, Choke, Unchoke, Interested,
// NotInterested, Have, Bitfield, Request, Piece and Cancel.
type Message interface {
	ID() MessageID
	// frameLen is the value of the length prefix.
	frameLen() int
	appendBody(dst []byte) []byte
}

type (
	KeepAlive     struct{}
	Choke         struct{}
	Unchoke       struct{}
	Interested    struct{}
	NotInterested struct{}

	Have struct {
		Index uint32
	}

	// Bitfield holds one bit per piece, high bit of the first byte first.
	Bitfield struct {
		Bits []byte
	}

	Request struct {
		Index  uint32
		Begin  uint32
		Length uint32
	}

	Piece struct {
		Index uint32
		Begin uint32
		Block []byte
	}

	Cancel struct {
		Index  uint32
		Begin  uint32
		Length uint32
	}
)

func (KeepAlive) ID() MessageID     { return IDKeepAlive }
func (Choke) ID() MessageID         { return IDChoke }
func (Unchoke) ID() MessageID       { return IDUnchoke }
func (Interested) ID() MessageID    { return IDInterested }
func (NotInterested) ID() MessageID { return IDNotInterested }
func (Have) ID() MessageID          { return IDHave }
func (Bitfield) ID() MessageID      { return IDBitfield }
func (Request) ID() MessageID       { return IDRequest }
func (Piece) ID() MessageID         { return IDPiece }
func (Cancel) ID() MessageID        { return IDCancel }

func (KeepAlive) frameLen() int     { return 0 }
func (Choke) frameLen() int         { return 1 }
func (Unchoke) frameLen() int       { return 1 }
func (Interested) frameLen() int    { return 1 }
func (NotInterested) frameLen() int { return 1 }
func (Have) frameLen() int          { return 5 }
func (m Bitfield) frameLen() int    { return 1 + len(m.Bits) }
func (Request) frameLen() int       { return 13 }
func (m Piece) frameLen() int       { return 9 + len(m.Block) }
func (Cancel) frameLen() int        { return 13 }

func (KeepAlive) appendBody(dst []byte) []byte     { return dst }
func (Choke) appendBody(dst []byte) []byte         { return dst }
func (Unchoke) appendBody(dst []byte) []byte       { return dst }
func (Interested) appendBody(dst []byte) []byte    { return dst }
func (NotInterested) appendBody(dst []byte) []byte { return dst }

func (m Have) appendBody(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, m.Index)
}

func (m Bitfield) appendBody(dst []byte) []byte {
	return append(dst, m.Bits...)
}

func (m Request) appendBody(dst []byte) []byte {
	return appendTriple(dst, m.Index, m.Begin, m.Length)
}

func (m Piece) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, m.Index)
	dst = binary.BigEndian.AppendUint32(dst, m.Begin)
	return append(dst, m.Block...)
}

func (m Cancel) appendBody(dst []byte) []byte {
	return appendTriple(dst, m.Index, m.Begin, m.Length)
}

func appendTriple(dst []byte, a, b, c uint32) []byte {
	dst = binary.BigEndian.AppendUint32(dst, a)
	dst = binary.BigEndian.AppendUint32(dst, b)
	return binary.BigEndian.AppendUint32(dst, c)
}

// HasPiece reports whether the bit for piece index is set.
func (m Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(m.Bits) {
		return false
	}
	return m.Bits[byteIndex]>>(7-uint(index%8))&1 != 0
}

// SetPiece sets the bit for piece index; indices beyond the field are ignored.
func (m Bitfield) SetPiece(index int) {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(m.Bits) {
		return
	}
	m.Bits[byteIndex] |= 1 << (7 - uint(index%8))
}

// InvalidMessageIDError carries a message id outside 0-8.
type InvalidMessageIDError struct {
	ID byte
}

func (e *InvalidMessageIDError) Error() string {
	return fmt.Sprintf("invalid message id %d", e.ID)
}

// IncorrectLengthError reports a frame whose length prefix does not fit its id.
type IncorrectLengthError struct {
	ID     MessageID
	Length uint32
	Want   uint32
	// AtLeast is set for variable-length messages where Want is a minimum.
	AtLeast bool
}

func (e *IncorrectLengthError) Error() string {
	if e.AtLeast {
		return fmt.Sprintf("incorrect message length %d for %s, want at least %d", e.Length, e.ID, e.Want)
	}
	return fmt.Sprintf("incorrect message length %d for %s, want %d", e.Length, e.ID, e.Want)
}

// MessageCodec frames peer wire messages. It holds no state.
type MessageCodec struct{}

// Decode looks at the frame at the start of src. Nothing is considered
// consumed until the whole frame is present and valid.
func (MessageCodec) Decode(src []byte) Decoded[Message] {
	if len(src) < lengthPrefixSize {
		return needMore[Message](lengthPrefixSize - len(src))
	}
	length := uint64(binary.BigEndian.Uint32(src))
	if length == 0 {
		return parsed[Message](KeepAlive{}, lengthPrefixSize)
	}
	available := uint64(len(src) - lengthPrefixSize)
	if available < length {
		return needMore[Message](int(length - available))
	}

	total := lengthPrefixSize + int(length)
	msg, err := decodeFrame(src[lengthPrefixSize:total])
	if err != nil {
		return invalid[Message](err)
	}
	return parsed(msg, total)
}

// DecodeBuffer decodes from buf, advancing it past a parsed frame and
// reserving room for at most maxReserve of the deficit when more bytes are
// needed.
func (c MessageCodec) DecodeBuffer(buf *bytes.Buffer) Decoded[Message] {
	return apply(buf, c.Decode(buf.Bytes()))
}

// Encode appends the framed form of m to dst.
func (MessageCodec) Encode(dst []byte, m Message) []byte {
	n := m.frameLen()
	dst = binary.BigEndian.AppendUint32(dst, uint32(n))
	if n == 0 {
		return dst
	}
	dst = append(dst, byte(m.ID()))
	return m.appendBody(dst)
}

// decodeFrame parses the id and body of a frame with a non-zero length.
func decodeFrame(frame []byte) (Message, error) {
	id := MessageID(frame[0])
	body := frame[1:]
	length := uint32(len(frame))

	switch id {
	case IDChoke, IDUnchoke, IDInterested, IDNotInterested, IDHave, IDRequest, IDCancel:
		if want := fixedFrameLen(id); length != want {
			return nil, &IncorrectLengthError{ID: id, Length: length, Want: want}
		}
	case IDPiece:
		if length < 9 {
			return nil, &IncorrectLengthError{ID: id, Length: length, Want: 9, AtLeast: true}
		}
	case IDBitfield:
	default:
		return nil, &InvalidMessageIDError{ID: frame[0]}
	}

	switch id {
	case IDChoke:
		return Choke{}, nil
	case IDUnchoke:
		return Unchoke{}, nil
	case IDInterested:
		return Interested{}, nil
	case IDNotInterested:
		return NotInterested{}, nil
	case IDHave:
		return Have{Index: binary.BigEndian.Uint32(body)}, nil
	case IDBitfield:
		return Bitfield{Bits: bytes.Clone(body)}, nil
	case IDRequest:
		index, begin, n := readTriple(body)
		return Request{Index: index, Begin: begin, Length: n}, nil
	case IDPiece:
		return Piece{
			Index: binary.BigEndian.Uint32(body[0:4]),
			Begin: binary.BigEndian.Uint32(body[4:8]),
			Block: bytes.Clone(body[8:]),
		}, nil
	case IDCancel:
		index, begin, n := readTriple(body)
		return Cancel{Index: index, Begin: begin, Length: n}, nil
	}
	return nil, &InvalidMessageIDError{ID: frame[0]}
}

func fixedFrameLen(id MessageID) uint32 {
	switch id {
	case IDHave:
		return 5
	case IDRequest, IDCancel:
		return 13
	default:
		return 1
	}
}

func readTriple(body []byte) (uint32, uint32, uint32) {
	return binary.BigEndian.Uint32(body[0:4]),
		binary.BigEndian.Uint32(body[4:8]),
		binary.BigEndian.Uint32(body[8:12])
}
