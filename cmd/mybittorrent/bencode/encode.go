package bencode

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
)

// Encode serializes value. *Dict keeps its own key order; plain maps are
// written with sorted keys.
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeAny(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeAny(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case string:
		encodeBytes(buf, []byte(v))
	case []byte:
		encodeBytes(buf, v)
	case int:
		encodeInt(buf, int64(v))
	case int64:
		encodeInt(buf, v)
	case []any:
		buf.WriteByte('l')
		for _, item := range v {
			if err := encodeAny(buf, item); err != nil {
				return fmt.Errorf("failed to encode list item: %w", err)
			}
		}
		buf.WriteByte('e')
	case []string:
		buf.WriteByte('l')
		for _, item := range v {
			encodeBytes(buf, []byte(item))
		}
		buf.WriteByte('e')
	case *Dict:
		buf.WriteByte('d')
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			encodeBytes(buf, []byte(key))
			if err := encodeAny(buf, item); err != nil {
				return fmt.Errorf("failed to encode dictionary value %q: %w", key, err)
			}
		}
		buf.WriteByte('e')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		buf.WriteByte('d')
		for _, key := range keys {
			encodeBytes(buf, []byte(key))
			if err := encodeAny(buf, v[key]); err != nil {
				return fmt.Errorf("failed to encode dictionary value %q: %w", key, err)
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("unsupported type for bencode encoding: %T", value)
	}
	return nil
}

func encodeBytes(buf *bytes.Buffer, b []byte) {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
}

func encodeInt(buf *bytes.Buffer, i int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(i, 10))
	buf.WriteByte('e')
}
