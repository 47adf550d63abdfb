package magnet

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/torrant-go/torrant/cmd/mybittorrent/metainfo"
)

const (
	scheme    = "magnet:?"
	btihTopic = "urn:btih:"
)

var (
	ErrNotMagnet    = errors.New("not a magnet URI")
	ErrMissingTopic = errors.New("magnet URI has no urn:btih exact topic")
	ErrBadInfoHash  = errors.New("magnet URI has a malformed info hash")
)

// Link is what a magnet URI knows about a torrent before its metainfo is
// fetched.
type Link struct {
	InfoHash metainfo.Hash
	Name     string
	Trackers []string
}

// Parse reads a magnet URI. The info hash may be 40 hex or 32 base32
// characters; the first urn:btih topic wins when several are present.
func Parse(uri string) (*Link, error) {
	if !strings.HasPrefix(uri, scheme) {
		return nil, ErrNotMagnet
	}
	values, err := url.ParseQuery(uri[len(scheme):])
	if err != nil {
		return nil, fmt.Errorf("failed to parse magnet URI query: %w", err)
	}

	var encoded string
	for _, xt := range values["xt"] {
		if strings.HasPrefix(xt, btihTopic) {
			encoded = strings.TrimPrefix(xt, btihTopic)
			break
		}
	}
	if encoded == "" {
		return nil, ErrMissingTopic
	}
	hash, err := parseInfoHash(encoded)
	if err != nil {
		return nil, err
	}

	return &Link{
		InfoHash: hash,
		Name:     values.Get("dn"),
		Trackers: values["tr"],
	}, nil
}

func parseInfoHash(s string) (metainfo.Hash, error) {
	switch len(s) {
	case 2 * metainfo.HashSize:
		h, err := metainfo.ParseHash(s)
		if err != nil {
			return metainfo.Hash{}, fmt.Errorf("%w: %v", ErrBadInfoHash, err)
		}
		return h, nil
	case 32:
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return metainfo.Hash{}, fmt.Errorf("%w: %v", ErrBadInfoHash, err)
		}
		return metainfo.Hash(raw), nil
	default:
		return metainfo.Hash{}, fmt.Errorf("%w: length %d", ErrBadInfoHash, len(s))
	}
}
