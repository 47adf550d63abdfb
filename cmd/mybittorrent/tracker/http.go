package tracker

import (
	"context"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/dghubble/sling"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/torrant-go/torrant/cmd/mybittorrent/bencode"
)

// maxResponseSize bounds how much of a tracker body is read.
const maxResponseSize = 4 << 20

type announceParams struct {
	PeerID     string `url:"peer_id"`
	Port       uint16 `url:"port"`
	Uploaded   int64  `url:"uploaded"`
	Downloaded int64  `url:"downloaded"`
	Left       int64  `url:"left"`
	Compact    int    `url:"compact"`
	NumWant    *int32 `url:"numwant,omitempty"`
	Event      string `url:"event,omitempty"`
}

type httpResponse struct {
	Interval    int    `mapstructure:"interval"`
	MinInterval int    `mapstructure:"min interval"`
	Complete    int    `mapstructure:"complete"`
	Incomplete  int    `mapstructure:"incomplete"`
	TrackerID   string `mapstructure:"tracker id"`
	Warning     string `mapstructure:"warning message"`
}

type httpPeer struct {
	PeerID []byte `mapstructure:"peer id"`
	IP     string `mapstructure:"ip"`
	Port   int64  `mapstructure:"port"`
}

// HTTPTracker announces over HTTP(S) GET requests.
type HTTPTracker struct {
	client *http.Client
	log    *zap.Logger
}

// NewHTTPTracker uses http.DefaultClient when client is nil.
func NewHTTPTracker(client *http.Client) *HTTPTracker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTracker{
		client: client,
		log:    zap.L().Named("tracker.http"),
	}
}

func (t *HTTPTracker) Announce(ctx context.Context, announce *url.URL, req AnnounceRequest) (*Response, error) {
	httpReq, err := newAnnounceRequest(announce, req)
	if err != nil {
		return nil, err
	}
	t.log.Debug("announcing", zap.String("url", httpReq.URL.Redacted()), zap.Stringer("event", req.Event))

	resp, err := t.client.Do(httpReq.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "failed to send announce request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read announce response")
	}

	out, err := ParseHTTPResponse(body)
	if err != nil {
		var failure *FailureError
		if resp.StatusCode != http.StatusOK && !errors.As(err, &failure) {
			return nil, errors.Errorf("tracker answered with status %s", resp.Status)
		}
		return nil, err
	}
	t.log.Debug("announce answered",
		zap.Int("interval", out.Interval),
		zap.Int("peers", out.Peers.Len()),
	)
	return out, nil
}

func newAnnounceRequest(announce *url.URL, req AnnounceRequest) (*http.Request, error) {
	params := announceParams{
		PeerID:     string(req.PeerID[:]),
		Port:       req.Port,
		Uploaded:   req.Uploaded,
		Downloaded: req.Downloaded,
		Left:       req.Left,
		Compact:    1,
		Event:      req.Event.String(),
	}
	if req.NumWant >= 0 {
		params.NumWant = &req.NumWant
	}
	httpReq, err := sling.New().Get(announce.String()).QueryStruct(params).Request()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build announce request")
	}
	// Appended after sling so its re-encoding of the query never sees raw bytes.
	httpReq.URL.RawQuery += "&info_hash=" + EncodeBytes(req.InfoHash[:])
	return httpReq, nil
}

// ParseHTTPResponse decodes a bencoded announce body. A "failure reason" key
// turns into a *FailureError.
func ParseHTTPResponse(body []byte) (*Response, error) {
	v, err := bencode.DecodeAll[any](body)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}
	dict, ok := v.(*bencode.Dict)
	if !ok {
		return nil, errors.Wrap(ErrInvalidResponse, "response is not a dictionary")
	}

	if dict.Has("failure reason") {
		reason, ok := dict.String("failure reason")
		if !ok {
			return nil, errors.Wrap(ErrInvalidResponse, "failure reason is not a string")
		}
		return nil, &FailureError{Reason: strings.ToValidUTF8(reason, "\uFFFD")}
	}

	if _, ok := dict.Int("interval"); !ok {
		return nil, errors.Wrap(ErrInvalidResponse, "missing interval")
	}
	var raw httpResponse
	if err := dict.Decode(&raw); err != nil {
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}

	peers, err := parsePeers(dict)
	if err != nil {
		return nil, err
	}
	return &Response{
		Interval:    raw.Interval,
		MinInterval: raw.MinInterval,
		Complete:    raw.Complete,
		Incomplete:  raw.Incomplete,
		TrackerID:   raw.TrackerID,
		Warning:     raw.Warning,
		Peers:       peers,
	}, nil
}

func parsePeers(dict *bencode.Dict) (Peers, error) {
	v, ok := dict.Get("peers")
	if !ok {
		return nil, errors.Wrap(ErrInvalidResponse, "missing peers")
	}
	switch v := v.(type) {
	case string:
		return ParseCompactPeers([]byte(v))
	case []any:
		peers := make(DictionaryPeers, 0, len(v))
		for i, item := range v {
			d, ok := item.(*bencode.Dict)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidResponse, "peer %d is not a dictionary", i)
			}
			peer, err := parseDictionaryPeer(d)
			if err != nil {
				return nil, errors.Wrapf(err, "peer %d", i)
			}
			peers = append(peers, peer)
		}
		return peers, nil
	default:
		return nil, errors.Wrap(ErrInvalidResponse, "peers is neither a string nor a list")
	}
}

func parseDictionaryPeer(d *bencode.Dict) (DictionaryPeer, error) {
	if !d.Has("ip") || !d.Has("port") {
		return DictionaryPeer{}, errors.Wrap(ErrInvalidResponse, "peer needs ip and port")
	}
	var raw httpPeer
	if err := d.Decode(&raw); err != nil {
		return DictionaryPeer{}, errors.Wrap(ErrInvalidResponse, err.Error())
	}
	if raw.Port < 0 || raw.Port > 0xFFFF {
		return DictionaryPeer{}, errors.Wrapf(ErrInvalidResponse, "port %d out of range", raw.Port)
	}
	if raw.IP == "" {
		return DictionaryPeer{}, errors.Wrap(ErrInvalidResponse, "empty peer ip")
	}

	peer := DictionaryPeer{PeerID: raw.PeerID, Port: uint16(raw.Port)}
	if addr, err := netip.ParseAddr(raw.IP); err == nil {
		peer.IP = addr
	} else {
		peer.Host = raw.IP
	}
	return peer, nil
}
