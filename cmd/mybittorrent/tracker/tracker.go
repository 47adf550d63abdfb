package tracker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torrant-go/torrant/cmd/mybittorrent/metainfo"
	"github.com/torrant-go/torrant/cmd/mybittorrent/peering"
)

const compactPeerSize = 6

var (
	ErrInvalidResponse  = errors.New("tracker response was not valid")
	ErrCompactPeers     = errors.New("compact peer list length is not a multiple of 6")
	ErrUnexpectedAction = errors.New("unexpected action in tracker response")
	ErrTimeout          = errors.New("tracker did not answer")
)

// FailureError is a tracker refusing an announce.
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("announce failed with reason '%s'", e.Reason)
}

// TransactionMismatchError is a UDP response answering a different request.
type TransactionMismatchError struct {
	Got  int32
	Want int32
}

func (e *TransactionMismatchError) Error() string {
	return fmt.Sprintf("received transaction id %d, expected %d", e.Got, e.Want)
}

type UnknownSchemeError struct {
	Scheme string
}

func (e *UnknownSchemeError) Error() string {
	return fmt.Sprintf("unknown tracker scheme '%s'", e.Scheme)
}

// Event tells the tracker why an announce is sent.
type Event int32

const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

func (e Event) String() string {
	switch e {
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}

type AnnounceRequest struct {
	InfoHash   metainfo.Hash
	PeerID     peering.PeerID
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	// NumWant is the number of peers asked for; -1 leaves it to the tracker.
	NumWant int32
	// Key identifies the client across IP changes; UDP announces draw a
	// random one when it is zero.
	Key uint32
}

// NewAnnounceRequest describes a fresh download of info: nothing uploaded or
// downloaded yet, every byte left.
func NewAnnounceRequest(info *metainfo.Info, peerID peering.PeerID, port uint16) AnnounceRequest {
	return AnnounceRequest{
		InfoHash: info.InfoHash(),
		PeerID:   peerID,
		Port:     port,
		Left:     info.TotalBytes(),
		NumWant:  -1,
	}
}

// Response is an announce result in the same shape for HTTP and UDP trackers.
// UDP trackers report seeders as Incomplete and leave Complete at zero.
type Response struct {
	Interval    int
	MinInterval int
	Complete    int
	Incomplete  int
	TrackerID   string
	Warning     string
	Peers       Peers
}

// Peers is either DictionaryPeers or CompactPeers.
type Peers interface {
	// Addrs lists host:port for every peer.
	Addrs() []string
	Len() int
	isPeers()
}

// DictionaryPeer is one entry of the non-compact peer list. Exactly one of IP
// and Host is set.
type DictionaryPeer struct {
	PeerID []byte
	IP     netip.Addr
	Host   string
	Port   uint16
}

func (p DictionaryPeer) Addr() string {
	host := p.Host
	if p.IP.IsValid() {
		host = p.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(p.Port)))
}

type DictionaryPeers []DictionaryPeer

func (p DictionaryPeers) Addrs() []string {
	addrs := make([]string, len(p))
	for i, peer := range p {
		addrs[i] = peer.Addr()
	}
	return addrs
}

func (p DictionaryPeers) Len() int { return len(p) }
func (DictionaryPeers) isPeers()   {}

// CompactPeers is the packed 6-bytes-per-peer IPv4 form.
type CompactPeers []netip.AddrPort

func (p CompactPeers) Addrs() []string {
	addrs := make([]string, len(p))
	for i, peer := range p {
		addrs[i] = peer.String()
	}
	return addrs
}

func (p CompactPeers) Len() int { return len(p) }
func (CompactPeers) isPeers()   {}

// ParseCompactPeers unpacks {ipv4, port} pairs.
func ParseCompactPeers(data []byte) (CompactPeers, error) {
	if len(data)%compactPeerSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrCompactPeers, len(data))
	}
	peers := make(CompactPeers, 0, len(data)/compactPeerSize)
	for i := 0; i < len(data); i += compactPeerSize {
		addr := netip.AddrFrom4([4]byte(data[i : i+4]))
		port := binary.BigEndian.Uint16(data[i+4 : i+6])
		peers = append(peers, netip.AddrPortFrom(addr, port))
	}
	return peers, nil
}

// Client announces to a tracker of any supported scheme.
type Client struct {
	http *HTTPTracker
	udp  *UDPTracker
	log  *zap.Logger
}

func NewClient(http *HTTPTracker, udp *UDPTracker) *Client {
	return &Client{
		http: http,
		udp:  udp,
		log:  zap.L().Named("tracker"),
	}
}

// Announce picks the HTTP or UDP protocol from the URL scheme.
func (c *Client) Announce(ctx context.Context, announceURL string, req AnnounceRequest) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse announce URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return c.http.Announce(ctx, u, req)
	case "udp":
		return c.udp.Announce(ctx, u, req)
	default:
		return nil, &UnknownSchemeError{Scheme: u.Scheme}
	}
}

const maxConcurrentAnnounces = 8

// AnnounceAll announces to every URL at once and merges the answers. It fails
// only when no tracker answered, with every tracker's error combined.
func (c *Client) AnnounceAll(ctx context.Context, announceURLs []string, req AnnounceRequest) (*Response, error) {
	var (
		g         errgroup.Group
		mu        sync.Mutex
		responses = make([]*Response, len(announceURLs))
		errs      error
	)
	g.SetLimit(maxConcurrentAnnounces)
	for i, u := range announceURLs {
		i, u := i, u
		g.Go(func() error {
			resp, err := c.Announce(ctx, u, req)
			if err != nil {
				c.log.Warn("announce failed", zap.String("url", u), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", u, err))
				mu.Unlock()
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	merged := merge(responses)
	if merged == nil {
		if errs == nil {
			errs = errors.New("no announce URLs")
		}
		return nil, errs
	}
	return merged, nil
}

func merge(responses []*Response) *Response {
	var (
		out     *Response
		seen    = map[string]bool{}
		dict    DictionaryPeers
		compact CompactPeers
		anyDict bool
	)
	for _, r := range responses {
		if r == nil {
			continue
		}
		if out == nil {
			out = &Response{Interval: r.Interval, MinInterval: r.MinInterval}
		}
		if r.Interval > 0 && (out.Interval <= 0 || r.Interval < out.Interval) {
			out.Interval = r.Interval
		}
		out.MinInterval = max(out.MinInterval, r.MinInterval)
		out.Complete = max(out.Complete, r.Complete)
		out.Incomplete = max(out.Incomplete, r.Incomplete)
		if out.Warning == "" {
			out.Warning = r.Warning
		}

		switch peers := r.Peers.(type) {
		case CompactPeers:
			for _, p := range peers {
				if !seen[p.String()] {
					seen[p.String()] = true
					compact = append(compact, p)
					dict = append(dict, DictionaryPeer{IP: p.Addr(), Port: p.Port()})
				}
			}
		case DictionaryPeers:
			anyDict = true
			for _, p := range peers {
				if !seen[p.Addr()] {
					seen[p.Addr()] = true
					dict = append(dict, p)
				}
			}
		}
	}
	if out == nil {
		return nil
	}
	if anyDict {
		out.Peers = dict
	} else {
		out.Peers = compact
	}
	return out
}
