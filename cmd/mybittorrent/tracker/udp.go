package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/torrant-go/torrant/cmd/mybittorrent/peering"
)

const maxDatagramSize = 64 * 1024

// UDPTracker announces with the connect-then-announce UDP protocol. A request
// is retransmitted after timeout*2^n with n counting up to retries.
type UDPTracker struct {
	src     peering.Source
	timeout time.Duration
	retries int
	dialer  net.Dialer
	log     *zap.Logger
}

// NewUDPTracker draws transaction ids and keys from src, peering.CryptoSource
// when nil.
func NewUDPTracker(src peering.Source, timeout time.Duration, retries int) *UDPTracker {
	if src == nil {
		src = peering.CryptoSource{}
	}
	return &UDPTracker{
		src:     src,
		timeout: timeout,
		retries: retries,
		log:     zap.L().Named("tracker.udp"),
	}
}

func (t *UDPTracker) Announce(ctx context.Context, announce *url.URL, req AnnounceRequest) (*Response, error) {
	if announce.Port() == "" {
		return nil, errors.Errorf("announce URL %s has no port", announce.Redacted())
	}
	conn, err := t.dialer.DialContext(ctx, "udp", announce.Host)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reach tracker %s", announce.Host)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	log := t.log.With(zap.String("tracker", announce.Host))
	connectionID, err := t.connect(ctx, conn, log)
	if err != nil {
		return nil, err
	}
	log.Debug("connected", zap.Int64("connection_id", connectionID))
	return t.announce(ctx, conn, log, connectionID, req)
}

func (t *UDPTracker) connect(ctx context.Context, conn net.Conn, log *zap.Logger) (int64, error) {
	txID := int32(t.src.Uint32())
	request, err := marshal(ConnectRequest{
		ProtocolID:    ProtocolID,
		Action:        ActionConnect,
		TransactionID: txID,
	})
	if err != nil {
		return 0, err
	}

	var resp ConnectResponse
	err = t.roundTrip(ctx, conn, log, request, func(data []byte) (bool, error) {
		if err := checkHeader(data, ActionConnect, txID); err != nil || len(data) < ConnectResponseSize {
			return false, err
		}
		return true, unmarshal(data, &resp)
	})
	return resp.ConnectionID, err
}

func (t *UDPTracker) announce(ctx context.Context, conn net.Conn, log *zap.Logger, connectionID int64, req AnnounceRequest) (*Response, error) {
	txID := int32(t.src.Uint32())
	key := req.Key
	if key == 0 {
		key = t.src.Uint32()
	}
	request, err := marshal(UDPAnnounceRequest{
		ConnectionID:  connectionID,
		Action:        ActionAnnounce,
		TransactionID: txID,
		InfoHash:      req.InfoHash,
		PeerID:        req.PeerID,
		Downloaded:    req.Downloaded,
		Left:          req.Left,
		Uploaded:      req.Uploaded,
		Event:         int32(req.Event),
		Key:           key,
		NumWant:       req.NumWant,
		Port:          req.Port,
	})
	if err != nil {
		return nil, err
	}

	var out *Response
	err = t.roundTrip(ctx, conn, log, request, func(data []byte) (bool, error) {
		if err := checkHeader(data, ActionAnnounce, txID); err != nil || len(data) < AnnounceResponseHeaderSize {
			return false, err
		}
		var hdr AnnounceResponseHeader
		if err := unmarshal(data, &hdr); err != nil {
			return false, err
		}
		if hdr.Leechers < 0 || hdr.Seeders < 0 {
			return false, errors.Wrap(ErrInvalidResponse, "negative peer count")
		}
		count := int(hdr.Leechers) + int(hdr.Seeders)
		if len(data) < AnnounceResponseHeaderSize+count*PeerEntrySize {
			return false, nil
		}
		entries := make([]PeerEntry, count)
		if err := unmarshal(data[AnnounceResponseHeaderSize:], entries); err != nil {
			return false, err
		}
		peers := make(CompactPeers, count)
		for i, e := range entries {
			var ip [4]byte
			binary.BigEndian.PutUint32(ip[:], uint32(e.IP))
			peers[i] = netip.AddrPortFrom(netip.AddrFrom4(ip), e.Port)
		}
		out = &Response{
			Interval:   int(hdr.Interval),
			Incomplete: int(hdr.Seeders),
			Peers:      peers,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkHeader validates what is known of a response so far. It returns nil
// both when the header is fine and when fewer than its 8 bytes arrived.
func checkHeader(data []byte, action, txID int32) error {
	if len(data) < ResponseHeaderSize {
		return nil
	}
	var hdr ResponseHeader
	if err := unmarshal(data, &hdr); err != nil {
		return err
	}
	if hdr.TransactionID != txID {
		return &TransactionMismatchError{Got: hdr.TransactionID, Want: txID}
	}
	switch hdr.Action {
	case action:
		return nil
	case ActionError:
		return &FailureError{Reason: string(bytes.ToValidUTF8(data[ResponseHeaderSize:], []byte("\uFFFD")))}
	default:
		return errors.Wrapf(ErrUnexpectedAction, "got action %d, expected %d", hdr.Action, action)
	}
}

// roundTrip sends request and feeds everything received to parse until parse
// reports done. Datagrams are accumulated, so a response split across short
// reads still completes.
func (t *UDPTracker) roundTrip(ctx context.Context, conn net.Conn, log *zap.Logger, request []byte, parse func([]byte) (bool, error)) error {
	buf := make([]byte, maxDatagramSize)
	for attempt := 0; attempt <= t.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		if _, err := conn.Write(request); err != nil {
			return errors.Wrap(err, "failed to send to tracker")
		}

		deadline := time.Now().Add(t.timeout << attempt)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return errors.Wrap(err, "failed to set read deadline")
		}

		var received []byte
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if ctx.Err() != nil {
					return errors.WithStack(ctx.Err())
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					log.Debug("no answer, retransmitting", zap.Int("attempt", attempt+1))
					break
				}
				return errors.Wrap(err, "failed to receive from tracker")
			}
			received = append(received, buf[:n]...)
			done, err := parse(received)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			log.Debug("short response, waiting for more", zap.Int("bytes", len(received)))
		}
	}
	return errors.Wrapf(ErrTimeout, "after %d attempts", t.retries+1)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
		return nil, errors.Wrap(err, "failed to encode tracker request")
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, v); err != nil {
		return errors.Wrap(err, "failed to decode tracker response")
	}
	return nil
}
