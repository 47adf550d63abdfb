package peering

// SessionState holds the choke and interest flags of one connection.
type SessionState struct {
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool
}

// NewSessionState returns the state every connection starts in: both sides
// choking, neither interested.
func NewSessionState() SessionState {
	return SessionState{AmChoking: true, PeerChoking: true}
}

// Received applies a message that arrived from the peer.
func (s *SessionState) Received(m Message) {
	switch m.(type) {
	case Choke:
		s.PeerChoking = true
	case Unchoke:
		s.PeerChoking = false
	case Interested:
		s.PeerInterested = true
	case NotInterested:
		s.PeerInterested = false
	}
}

// Sent applies a message we sent to the peer.
func (s *SessionState) Sent(m Message) {
	switch m.(type) {
	case Choke:
		s.AmChoking = true
	case Unchoke:
		s.AmChoking = false
	case Interested:
		s.AmInterested = true
	case NotInterested:
		s.AmInterested = false
	}
}
