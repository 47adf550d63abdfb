package bencode

import (
	"fmt"
	"strconv"
)

// SyntaxError reports malformed bencode and the offset it was found at.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

// MaxDepth bounds how deeply lists and dictionaries may nest.
const MaxDepth = 512

func syntaxErr(offset int, format string, args ...any) error {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Decode decodes the first bencoded value in data and returns it together with
// the number of bytes it occupied. Byte strings decode to string, integers to
// int64, lists to []any and dictionaries to *Dict.
func Decode[T any](data []byte) (T, int, error) {
	var result T
	value, n, err := decodeAny(data, 0, 0)
	if err != nil {
		return result, 0, err
	}
	result, ok := value.(T)
	if !ok {
		return result, 0, syntaxErr(0, "expected %T, got %T", result, value)
	}
	return result, n, nil
}

// DecodeAll is Decode for buffers that must hold exactly one value.
func DecodeAll[T any](data []byte) (T, error) {
	result, n, err := Decode[T](data)
	if err != nil {
		return result, err
	}
	if n != len(data) {
		var zero T
		return zero, syntaxErr(n, "trailing data after value")
	}
	return result, nil
}

func decodeAny(data []byte, pos, depth int) (any, int, error) {
	if pos >= len(data) {
		return nil, 0, syntaxErr(pos, "unexpected end of input")
	}
	switch c := data[pos]; {
	case c >= '0' && c <= '9':
		return decodeString(data, pos)
	case c == 'i':
		return decodeInteger(data, pos)
	case c == 'l' || c == 'd':
		if depth >= MaxDepth {
			return nil, 0, syntaxErr(pos, "nesting deeper than %d", MaxDepth)
		}
		if c == 'l' {
			return decodeList(data, pos, depth+1)
		}
		return decodeDictionary(data, pos, depth+1)
	default:
		return nil, 0, syntaxErr(pos, "unsupported bencoded type %q", c)
	}
}

func decodeString(data []byte, pos int) (string, int, error) {
	colon := pos
	for colon < len(data) && data[colon] != ':' {
		if data[colon] < '0' || data[colon] > '9' {
			return "", 0, syntaxErr(colon, "invalid string length")
		}
		colon++
	}
	if colon == len(data) {
		return "", 0, syntaxErr(pos, "missing colon separator")
	}
	length, err := strconv.Atoi(string(data[pos:colon]))
	if err != nil {
		return "", 0, syntaxErr(pos, "invalid string length: %v", err)
	}
	start := colon + 1
	if length > len(data)-start {
		return "", 0, syntaxErr(pos, "string length %d exceeds input", length)
	}
	return string(data[start : start+length]), start + length, nil
}

func decodeInteger(data []byte, pos int) (int64, int, error) {
	end := pos + 1
	for end < len(data) && data[end] != 'e' {
		end++
	}
	if end == len(data) {
		return 0, 0, syntaxErr(pos, "missing 'e' terminator")
	}
	digits := string(data[pos+1 : end])
	if digits == "" || digits == "-0" || (len(digits) > 1 && digits[0] == '0') {
		return 0, 0, syntaxErr(pos, "invalid integer %q", digits)
	}
	num, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, 0, syntaxErr(pos, "invalid integer: %v", err)
	}
	return num, end + 1, nil
}

func decodeList(data []byte, pos, depth int) ([]any, int, error) {
	result := make([]any, 0)
	i := pos + 1
	for i < len(data) && data[i] != 'e' {
		value, next, err := decodeAny(data, i, depth)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, value)
		i = next
	}
	if i >= len(data) {
		return nil, 0, syntaxErr(pos, "list missing end marker")
	}
	return result, i + 1, nil
}

func decodeDictionary(data []byte, pos, depth int) (*Dict, int, error) {
	result := NewDict()
	i := pos + 1
	for i < len(data) && data[i] != 'e' {
		if data[i] < '0' || data[i] > '9' {
			return nil, 0, syntaxErr(i, "dictionary key must be a string")
		}
		key, next, err := decodeString(data, i)
		if err != nil {
			return nil, 0, err
		}
		if result.Has(key) {
			return nil, 0, syntaxErr(i, "duplicate dictionary key %q", key)
		}
		value, next, err := decodeAny(data, next, depth)
		if err != nil {
			return nil, 0, err
		}
		result.Set(key, value)
		i = next
	}
	if i >= len(data) {
		return nil, 0, syntaxErr(pos, "dictionary missing end marker")
	}
	return result, i + 1, nil
}
