package bencode

import (
	"bytes"
	"encoding/json"
	"testing"

	jackpal "github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_String(t *testing.T) {
	pkt := []byte("4:spam")
	str, n, err := Decode[string](pkt)
	if assert.NoError(t, err) {
		assert.Equal(t, len(pkt), n)
		assert.Equal(t, "spam", str)
	}
}

func TestDecode_Integer(t *testing.T) {
	pkt := []byte("i-123432e")
	i, n, err := Decode[int64](pkt)
	if assert.NoError(t, err) {
		assert.Equal(t, len(pkt), n)
		assert.Equal(t, int64(-123432), i)
	}
}

func TestDecode_List(t *testing.T) {
	pkt := []byte("li123e2:aae")
	list, n, err := Decode[[]any](pkt)
	if assert.NoError(t, err) {
		assert.Equal(t, len(pkt), n)
		assert.Equal(t, []any{int64(123), "aa"}, list)
	}
}

func TestDecode_DictKeepsKeyOrder(t *testing.T) {
	pkt := []byte("d3:zoo3:bar3:fooi7e1:ad1:xlee")
	d, n, err := Decode[*Dict](pkt)
	require.NoError(t, err)
	assert.Equal(t, len(pkt), n)
	assert.Equal(t, []string{"zoo", "foo", "a"}, d.Keys())

	s, ok := d.String("zoo")
	assert.True(t, ok)
	assert.Equal(t, "bar", s)
	i, ok := d.Int("foo")
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)
	sub, ok := d.Dict("a")
	require.True(t, ok)
	l, ok := sub.List("x")
	assert.True(t, ok)
	assert.Empty(t, l)

	out, err := Encode(d)
	require.NoError(t, err)
	assert.Equal(t, pkt, out)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"unknown type":     "x",
		"short string":     "5:abc",
		"missing colon":    "12",
		"empty integer":    "ie",
		"negative zero":    "i-0e",
		"leading zero":     "i03e",
		"open list":        "li1e",
		"open dict":        "d1:ai1e",
		"int key":          "di1ei2ee",
		"duplicate key":    "d1:ai1e1:ai2ee",
		"unterminated int": "i12",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode[any]([]byte(input))
			var syntax *SyntaxError
			assert.ErrorAs(t, err, &syntax)
		})
	}
}

func TestDecode_NestingLimit(t *testing.T) {
	nested := func(depth int, open string) []byte {
		return append(bytes.Repeat([]byte(open), depth), bytes.Repeat([]byte("e"), depth)...)
	}

	_, err := DecodeAll[any](nested(MaxDepth, "l"))
	assert.NoError(t, err)

	var syntax *SyntaxError
	_, err = DecodeAll[any](nested(MaxDepth+1, "l"))
	require.ErrorAs(t, err, &syntax)
	assert.Equal(t, MaxDepth, syntax.Offset)

	deepDict := append(bytes.Repeat([]byte("d1:k"), MaxDepth+1), bytes.Repeat([]byte("e"), MaxDepth+1)...)
	_, err = DecodeAll[any](deepDict)
	assert.ErrorAs(t, err, &syntax)

	_, err = DecodeAll[any](bytes.Repeat([]byte("l"), 4<<20))
	assert.ErrorAs(t, err, &syntax)
}

func TestDecode_WrongType(t *testing.T) {
	_, _, err := Decode[*Dict]([]byte("i1e"))
	assert.Error(t, err)
}

func TestDecodeAll_TrailingData(t *testing.T) {
	_, err := DecodeAll[int64]([]byte("i1ei2e"))
	assert.Error(t, err)

	v, err := DecodeAll[int64]([]byte("i1e"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestEncode_MapSortsKeys(t *testing.T) {
	out, err := Encode(map[string]any{
		"a": map[string]any{
			"id": "abcdefghij0123456789",
		},
		"q": "ping",
		"t": []byte("aa"),
		"y": 1,
	})
	if assert.NoError(t, err) {
		assert.Equal(t, "d1:ad2:id20:abcdefghij0123456789e1:q4:ping1:t2:aa1:yi1ee", string(out))
	}
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := Encode(3.5)
	assert.Error(t, err)
}

func TestDecode_MatchesIndependentEncoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jackpal.Marshal(&buf, map[string]any{
		"interval": 1800,
		"peers":    "abcdef",
		"list":     []any{"x", 2},
	}))

	d, err := DecodeAll[*Dict](buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"interval": int64(1800),
		"peers":    "abcdef",
		"list":     []any{"x", int64(2)},
	}, d.Map())

	out, err := Encode(d)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), out)
}

func TestDict_Decode(t *testing.T) {
	type file struct {
		Length int64    `mapstructure:"length"`
		Path   []string `mapstructure:"path"`
	}
	type target struct {
		Name   string `mapstructure:"name"`
		Pieces []byte `mapstructure:"pieces"`
		Files  []file `mapstructure:"files"`
	}
	d, err := DecodeAll[*Dict]([]byte("d4:name3:abc6:pieces2:\x01\x025:filesld6:lengthi3e4:pathl1:a1:beeee"))
	require.NoError(t, err)

	var out target
	require.NoError(t, d.Decode(&out))
	assert.Equal(t, "abc", out.Name)
	assert.Equal(t, []byte{1, 2}, out.Pieces)
	assert.Equal(t, []file{{Length: 3, Path: []string{"a", "b"}}}, out.Files)

	var wrong struct {
		Name int64 `mapstructure:"name"`
	}
	assert.Error(t, d.Decode(&wrong))
}

func TestDict_MarshalJSON(t *testing.T) {
	v, err := DecodeAll[any]([]byte("l5:helloi52ed3:foo3:bar4:listli1eeee"))
	require.NoError(t, err)
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `["hello",52,{"foo":"bar","list":[1]}]`, string(out))
}
