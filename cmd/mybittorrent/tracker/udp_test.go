package tracker

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSource struct {
	mu sync.Mutex
	n  uint32
}

func (s *counterSource) Uint32() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// udpScript answers the nth datagram a fake tracker receives with zero or
// more datagrams.
type udpScript func(n int, packet []byte) [][]byte

func fakeUDPTracker(t *testing.T, script udpScript) (*UDPTracker, string, func() [][]byte) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	var (
		mu       sync.Mutex
		received [][]byte
	)
	go func() {
		buf := make([]byte, 2048)
		for n := 0; ; n++ {
			size, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			packet := bytes.Clone(buf[:size])
			mu.Lock()
			received = append(received, packet)
			mu.Unlock()
			for _, reply := range script(n, packet) {
				_, _ = pc.WriteTo(reply, addr)
			}
		}
	}()

	tracker := NewUDPTracker(&counterSource{}, 100*time.Millisecond, 2)
	packets := func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(received)
	}
	return tracker, "udp://" + pc.LocalAddr().String() + "/announce", packets
}

func pack(t *testing.T, values ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, v := range values {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}
	return buf.Bytes()
}

func txID(packet []byte) int32 {
	return int32(binary.BigEndian.Uint32(packet[12:16]))
}

const testConnectionID int64 = 0x0102030405060708

func connectReply(t *testing.T, packet []byte) []byte {
	return pack(t, ConnectResponse{
		ResponseHeader: ResponseHeader{Action: ActionConnect, TransactionID: txID(packet)},
		ConnectionID:   testConnectionID,
	})
}

func announceReply(t *testing.T, packet []byte) []byte {
	return pack(t,
		AnnounceResponseHeader{
			ResponseHeader: ResponseHeader{Action: ActionAnnounce, TransactionID: txID(packet)},
			Interval:       1800,
			Leechers:       1,
			Seeders:        2,
		},
		[]PeerEntry{
			{IP: 0x7F000001, Port: 6881},
			{IP: 0x0A000002, Port: 80},
			{IP: -1062731519, Port: 51413}, // 192.168.1.1
		},
	)
}

func TestUDPTracker_Announce(t *testing.T) {
	tracker, rawURL, received := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		if n == 0 {
			return [][]byte{connectReply(t, packet)}
		}
		return [][]byte{announceReply(t, packet)}
	})

	req := testRequest()
	req.Event = EventStarted
	resp, err := tracker.Announce(testContext(t), announceURL(t, rawURL), req)
	require.NoError(t, err)
	assert.Equal(t, &Response{
		Interval:   1800,
		Complete:   0,
		Incomplete: 2,
		Peers: CompactPeers{
			netip.MustParseAddrPort("127.0.0.1:6881"),
			netip.MustParseAddrPort("10.0.0.2:80"),
			netip.MustParseAddrPort("192.168.1.1:51413"),
		},
	}, resp)

	packets := received()
	require.Len(t, packets, 2)

	var connect ConnectRequest
	require.NoError(t, binary.Read(bytes.NewReader(packets[0]), binary.BigEndian, &connect))
	assert.Len(t, packets[0], 16)
	assert.Equal(t, ConnectRequest{ProtocolID: 0x41727101980, Action: 0, TransactionID: 1}, connect)

	var announce UDPAnnounceRequest
	require.Len(t, packets[1], AnnounceRequestSize)
	require.NoError(t, binary.Read(bytes.NewReader(packets[1]), binary.BigEndian, &announce))
	assert.Equal(t, UDPAnnounceRequest{
		ConnectionID:  testConnectionID,
		Action:        ActionAnnounce,
		TransactionID: 2,
		InfoHash:      req.InfoHash,
		PeerID:        req.PeerID,
		Left:          req.Left,
		Event:         int32(EventStarted),
		Key:           3,
		NumWant:       -1,
		Port:          6881,
	}, announce)
}

func TestUDPTracker_ConnectTransactionMismatch(t *testing.T) {
	tracker, rawURL, received := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		return [][]byte{pack(t, ConnectResponse{
			ResponseHeader: ResponseHeader{Action: ActionConnect, TransactionID: txID(packet) + 1},
			ConnectionID:   testConnectionID,
		})}
	})

	_, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	var mismatch *TransactionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int32(1), mismatch.Want)
	assert.Equal(t, int32(2), mismatch.Got)
	assert.Len(t, received(), 1, "no announce after a mismatched connect")
}

func TestUDPTracker_AnnounceTransactionMismatch(t *testing.T) {
	tracker, rawURL, _ := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		if n == 0 {
			return [][]byte{connectReply(t, packet)}
		}
		reply := announceReply(t, packet)
		reply[7]++
		return [][]byte{reply}
	})

	_, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	var mismatch *TransactionMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestUDPTracker_ErrorAction(t *testing.T) {
	tracker, rawURL, _ := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		if n == 0 {
			return [][]byte{connectReply(t, packet)}
		}
		return [][]byte{append(pack(t, ResponseHeader{Action: ActionError, TransactionID: txID(packet)}), "unregistered torrent"...)}
	})

	_, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "unregistered torrent", failure.Reason)
}

func TestUDPTracker_UnexpectedAction(t *testing.T) {
	tracker, rawURL, _ := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		reply := connectReply(t, packet)
		reply[3] = byte(ActionScrape)
		return [][]byte{reply}
	})

	_, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	assert.ErrorIs(t, err, ErrUnexpectedAction)
}

func TestUDPTracker_ShortDatagramsAccumulate(t *testing.T) {
	tracker, rawURL, _ := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		if n == 0 {
			reply := connectReply(t, packet)
			return [][]byte{reply[:5], reply[5:]}
		}
		reply := announceReply(t, packet)
		return [][]byte{reply[:10], reply[10:23], reply[23:]}
	})

	resp, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Peers.Len())
}

func TestUDPTracker_Retransmits(t *testing.T) {
	tracker, rawURL, received := fakeUDPTracker(t, func(n int, packet []byte) [][]byte {
		switch n {
		case 0:
			return nil
		case 1:
			return [][]byte{connectReply(t, packet)}
		default:
			return [][]byte{announceReply(t, packet)}
		}
	})

	_, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	require.NoError(t, err)
	packets := received()
	require.Len(t, packets, 3)
	assert.Equal(t, packets[0], packets[1], "retransmission repeats the request")
}

func TestUDPTracker_Timeout(t *testing.T) {
	tracker, rawURL, received := fakeUDPTracker(t, func(int, []byte) [][]byte { return nil })
	tracker.timeout = 10 * time.Millisecond
	tracker.retries = 1

	_, err := tracker.Announce(testContext(t), announceURL(t, rawURL), testRequest())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, received(), 2)
}

func TestUDPTracker_RequiresPort(t *testing.T) {
	_, err := NewUDPTracker(nil, time.Second, 0).Announce(testContext(t), announceURL(t, "udp://tracker.example.org/announce"), testRequest())
	assert.Error(t, err)
}
