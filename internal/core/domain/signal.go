package domain

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription carries one side of the offer/answer exchange.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate mirrors the JSON shape candidates travel in on the
// signaling channel, so adapters convert without reshaping.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// IceServer is one entry from the ICE credential endpoint.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// RemoteTrack describes one media track received from the remote peer.
// The list is populated by the peer connection owner and read-only for
// everything else.
type RemoteTrack struct {
	ID   string    `json:"id"`
	Kind MediaType `json:"kind"`
}

// PeerState is the derived peer-connection status the core consumes.
// Values track the underlying connection state verbatim.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

func (s PeerState) Terminal() bool {
	return s == PeerStateFailed || s == PeerStateClosed
}
