package bencode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/elliotchance/orderedmap"
	"github.com/go-viper/mapstructure/v2"
)

// Dict is a bencoded dictionary. It remembers the order keys were inserted in,
// so a decoded dictionary encodes back to the exact bytes it came from.
type Dict struct {
	m *orderedmap.OrderedMap
}

func NewDict() *Dict {
	return &Dict{m: orderedmap.NewOrderedMap()}
}

func (d *Dict) Set(key string, value any) {
	d.m.Set(key, value)
}

func (d *Dict) Get(key string) (any, bool) {
	return d.m.Get(key)
}

func (d *Dict) Has(key string) bool {
	_, ok := d.m.Get(key)
	return ok
}

func (d *Dict) Len() int {
	return d.m.Len()
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	raw := d.m.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (d *Dict) String(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (d *Dict) Int(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

func (d *Dict) Dict(key string) (*Dict, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Dict)
	return sub, ok
}

func (d *Dict) List(key string) ([]any, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	l, ok := v.([]any)
	return l, ok
}

// Map converts the dictionary, and every dictionary nested in it, to a plain map.
func (d *Dict) Map() map[string]any {
	out := make(map[string]any, d.Len())
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out[k] = plain(v)
	}
	return out
}

// MarshalJSON renders the dictionary as a JSON object.
func (d *Dict) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

func plain(v any) any {
	switch v := v.(type) {
	case *Dict:
		return v.Map()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

var bytesType = reflect.TypeOf([]byte(nil))

// stringToBytesHook lets byte strings land in []byte fields.
func stringToBytesHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == bytesType {
		return []byte(data.(string)), nil
	}
	return data, nil
}

// Decode copies the dictionary into out, a pointer to a struct whose fields
// carry `mapstructure` tags naming the bencode keys.
func (d *Dict) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringToBytesHook,
		Result:     out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(d.Map()); err != nil {
		return fmt.Errorf("failed to decode dictionary: %w", err)
	}
	return nil
}
