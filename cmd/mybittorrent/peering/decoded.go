package peering

import "bytes"

// Outcome is the result kind of an incremental decode.
type Outcome int

const (
	// NeedMore means the buffer holds only a prefix of the next unit. It is not
	// an error: the caller supplies more bytes and decodes again.
	NeedMore Outcome = iota
	Parsed
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case NeedMore:
		return "need more"
	case Parsed:
		return "parsed"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Decoded is what a codec reports for one decode attempt.
type Decoded[T any] struct {
	Outcome Outcome
	// Value and Consumed are set when Outcome is Parsed.
	Value    T
	Consumed int
	// Need is the number of missing bytes when Outcome is NeedMore.
	Need int
	// Err is set when Outcome is Invalid.
	Err error
}

func parsed[T any](value T, consumed int) Decoded[T] {
	return Decoded[T]{Outcome: Parsed, Value: value, Consumed: consumed}
}

func needMore[T any](need int) Decoded[T] {
	return Decoded[T]{Outcome: NeedMore, Need: need}
}

func invalid[T any](err error) Decoded[T] {
	return Decoded[T]{Outcome: Invalid, Err: err}
}

// maxReserve caps what apply reserves ahead of the data. Need comes from a
// length prefix the peer chose, so the buffer only grows past this as bytes
// actually arrive.
const maxReserve = readChunkSize

// apply moves buf past a parsed unit or reserves room for the missing bytes.
// An invalid result leaves buf as it was.
func apply[T any](buf *bytes.Buffer, d Decoded[T]) Decoded[T] {
	switch d.Outcome {
	case Parsed:
		buf.Next(d.Consumed)
	case NeedMore:
		buf.Grow(min(d.Need, maxReserve))
	}
	return d
}
