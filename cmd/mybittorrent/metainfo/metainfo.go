package metainfo

import (
	"crypto/sha1"
	"fmt"

	"github.com/torrant-go/torrant/cmd/mybittorrent/bencode"
)

// FormatError reports torrent metadata that does not have the expected shape.
type FormatError struct {
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid metainfo: %s: %v", e.Msg, e.Err)
	}
	return "invalid metainfo: " + e.Msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErr(format string, args ...any) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// Metainfo is the content of a .torrent file.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	Info         *Info
}

// Info is the info dictionary: piece layout and file layout.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      []Hash
	Private     bool
	Layout      Layout

	hash Hash
}

// Layout is either SingleFile or MultiFile.
type Layout interface {
	totalBytes() int64
}

type SingleFile struct {
	Length int64
}

type MultiFile struct {
	Files []File
}

type File struct {
	Length int64    `mapstructure:"length"`
	Path   []string `mapstructure:"path"`
}

func (l SingleFile) totalBytes() int64 {
	return l.Length
}

func (l MultiFile) totalBytes() int64 {
	var total int64
	for _, f := range l.Files {
		total += f.Length
	}
	return total
}

type rawMetainfo struct {
	Announce     string     `mapstructure:"announce"`
	AnnounceList [][]string `mapstructure:"announce-list"`
}

type rawInfo struct {
	Name        string `mapstructure:"name"`
	PieceLength int64  `mapstructure:"piece length"`
	Pieces      []byte `mapstructure:"pieces"`
	Length      int64  `mapstructure:"length"`
	Files       []File `mapstructure:"files"`
	Private     int64  `mapstructure:"private"`
}

// Parse decodes a bencoded torrent file.
func Parse(data []byte) (*Metainfo, error) {
	top, err := bencode.DecodeAll[any](data)
	if err != nil {
		return nil, &FormatError{Msg: "malformed bencode", Err: err}
	}
	dict, ok := top.(*bencode.Dict)
	if !ok {
		return nil, formatErr("top-level value is not a dictionary")
	}
	if _, ok := dict.String("announce"); !ok {
		return nil, formatErr("missing announce URL")
	}
	infoDict, ok := dict.Dict("info")
	if !ok {
		return nil, formatErr("missing info dictionary")
	}

	var raw rawMetainfo
	if err := dict.Decode(&raw); err != nil {
		return nil, &FormatError{Msg: "bad torrent dictionary", Err: err}
	}
	info, err := ParseInfo(infoDict)
	if err != nil {
		return nil, err
	}
	return &Metainfo{
		Announce:     raw.Announce,
		AnnounceList: raw.AnnounceList,
		Info:         info,
	}, nil
}

// ParseInfo builds an Info from a decoded info dictionary and computes its hash.
func ParseInfo(dict *bencode.Dict) (*Info, error) {
	for _, key := range []string{"name", "pieces"} {
		if _, ok := dict.String(key); !ok {
			return nil, formatErr("missing or non-string %q", key)
		}
	}
	if _, ok := dict.Int("piece length"); !ok {
		return nil, formatErr("missing or non-integer \"piece length\"")
	}

	var raw rawInfo
	if err := dict.Decode(&raw); err != nil {
		return nil, &FormatError{Msg: "bad info dictionary", Err: err}
	}
	if raw.PieceLength <= 0 {
		return nil, formatErr("piece length must be positive, got %d", raw.PieceLength)
	}
	if len(raw.Pieces)%HashSize != 0 {
		return nil, formatErr("pieces length %d is not a multiple of %d", len(raw.Pieces), HashSize)
	}

	layout, err := parseLayout(dict, &raw)
	if err != nil {
		return nil, err
	}

	encoded, err := bencode.Encode(dict)
	if err != nil {
		return nil, &FormatError{Msg: "failed to encode info dictionary", Err: err}
	}

	info := &Info{
		Name:        raw.Name,
		PieceLength: raw.PieceLength,
		Pieces:      make([]Hash, len(raw.Pieces)/HashSize),
		Private:     raw.Private == 1,
		Layout:      layout,
		hash:        sha1.Sum(encoded),
	}
	for i := range info.Pieces {
		copy(info.Pieces[i][:], raw.Pieces[i*HashSize:])
	}
	return info, nil
}

func parseLayout(dict *bencode.Dict, raw *rawInfo) (Layout, error) {
	hasLength, hasFiles := dict.Has("length"), dict.Has("files")
	switch {
	case hasLength && !hasFiles:
		if raw.Length < 0 {
			return nil, formatErr("negative length %d", raw.Length)
		}
		return SingleFile{Length: raw.Length}, nil
	case hasFiles && !hasLength:
		if len(raw.Files) == 0 {
			return nil, formatErr("empty file list")
		}
		for i, f := range raw.Files {
			if f.Length < 0 {
				return nil, formatErr("file %d has negative length %d", i, f.Length)
			}
			if len(f.Path) == 0 {
				return nil, formatErr("file %d has an empty path", i)
			}
		}
		return MultiFile{Files: raw.Files}, nil
	default:
		return nil, formatErr("info must have exactly one of \"length\" or \"files\"")
	}
}

// InfoHash is the SHA-1 of the info dictionary as it appeared in the source,
// every key included, in source order.
func (i *Info) InfoHash() Hash {
	return i.hash
}

// TotalBytes is the sum of all file lengths.
func (i *Info) TotalBytes() int64 {
	return i.Layout.totalBytes()
}

func (i *Info) PieceCount() int {
	return len(i.Pieces)
}

func (i *Info) PieceHash(index int) (Hash, bool) {
	if index < 0 || index >= len(i.Pieces) {
		return Hash{}, false
	}
	return i.Pieces[index], true
}

// PieceSize is the byte length of a piece; only the last one may be short. A
// hash listed past the end of the content has no size and reports false.
func (i *Info) PieceSize(index int) (int64, bool) {
	if index < 0 || index >= i.PieceCount() {
		return 0, false
	}
	start := i.PieceLength * int64(index)
	total := i.TotalBytes()
	if start >= total {
		return 0, false
	}
	return min(i.PieceLength, total-start), true
}

// Trackers lists the announce URL followed by every distinct URL of the
// announce-list tiers, in order.
func (m *Metainfo) Trackers() []string {
	seen := map[string]bool{m.Announce: true}
	trackers := []string{m.Announce}
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			trackers = append(trackers, u)
		}
	}
	return trackers
}
