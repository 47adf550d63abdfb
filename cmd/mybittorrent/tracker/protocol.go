package tracker

import "encoding/binary"

// ProtocolID is the connection id of every UDP connect request.
const ProtocolID int64 = 0x41727101980

const (
	ActionConnect  int32 = 0
	ActionAnnounce int32 = 1
	ActionScrape   int32 = 2
	ActionError    int32 = 3
)

var (
	ResponseHeaderSize         = binary.Size(ResponseHeader{})
	ConnectResponseSize        = binary.Size(ConnectResponse{})
	AnnounceRequestSize        = binary.Size(UDPAnnounceRequest{})
	AnnounceResponseHeaderSize = binary.Size(AnnounceResponseHeader{})
	PeerEntrySize              = binary.Size(PeerEntry{})
)

type ConnectRequest struct {
	ProtocolID    int64
	Action        int32
	TransactionID int32
}

// ResponseHeader starts every UDP tracker response.
type ResponseHeader struct {
	Action        int32
	TransactionID int32
}

type ConnectResponse struct {
	ResponseHeader
	ConnectionID int64
}

// UDPAnnounceRequest ends with a zero extensions field, which reads as an
// end-of-options marker to trackers that parse options.
type UDPAnnounceRequest struct {
	ConnectionID  int64
	Action        int32
	TransactionID int32
	InfoHash      [20]byte
	PeerID        [20]byte
	Downloaded    int64
	Left          int64
	Uploaded      int64
	Event         int32
	IP            uint32
	Key           uint32
	NumWant       int32
	Port          uint16
	Extensions    uint16
}

type AnnounceResponseHeader struct {
	ResponseHeader
	Interval int32
	Leechers int32
	Seeders  int32
}

type PeerEntry struct {
	IP   int32
	Port uint16
}
