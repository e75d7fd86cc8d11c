package domain

type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// CallStatus is the single source of truth for where a call is in its
// lifecycle. Idle is both the initial and the terminal state.
type CallStatus string

const (
	StatusIdle            CallStatus = "idle"
	StatusRingingOutgoing CallStatus = "ringing_outgoing"
	StatusRingingIncoming CallStatus = "ringing_incoming"
	StatusConnecting      CallStatus = "connecting"
	StatusConnected       CallStatus = "connected"
	StatusEnding          CallStatus = "ending"
	StatusError           CallStatus = "error"
)

func (s CallStatus) Active() bool {
	return s != StatusIdle && s != StatusError
}

type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// CallSession is one attempted or active call between two users.
// It is created on a start-call intent or an incoming-call event and
// mutated only by the call service's run loop.
type CallSession struct {
	ID     CallID
	Role   CallRole
	Status CallStatus
	Peer   UserID

	WithAudio bool
	WithVideo bool

	AudioEnabled bool
	VideoEnabled bool

	// Remote media flags, maintained from inbound toggle events.
	RemoteAudioEnabled bool
	RemoteVideoEnabled bool

	// Local candidates generated before the call id is known.
	PendingLocalCandidates []ICECandidate

	// Offer received while still ringing, held until the user accepts.
	PendingRemoteOffer *SessionDescription

	// Populated from remote-track notifications, never mutated elsewhere.
	RemoteTracks []RemoteTrack

	LastError string
}

func NewOutgoingSession(peer UserID, withAudio, withVideo bool) *CallSession {
	return &CallSession{
		Role:               RoleCaller,
		Status:             StatusRingingOutgoing,
		Peer:               peer,
		WithAudio:          withAudio,
		WithVideo:          withVideo,
		AudioEnabled:       withAudio,
		VideoEnabled:       withVideo,
		RemoteAudioEnabled: true,
		RemoteVideoEnabled: true,
	}
}

func NewIncomingSession(id CallID, peer UserID, withAudio, withVideo bool) *CallSession {
	return &CallSession{
		ID:                 id,
		Role:               RoleCallee,
		Status:             StatusRingingIncoming,
		Peer:               peer,
		WithAudio:          withAudio,
		WithVideo:          withVideo,
		AudioEnabled:       withAudio,
		VideoEnabled:       withVideo,
		RemoteAudioEnabled: true,
		RemoteVideoEnabled: true,
	}
}

// CallState is the snapshot published to the UI layer.
type CallState struct {
	Status             CallStatus    `json:"status"`
	CallID             CallID        `json:"call_id,omitempty"`
	Role               CallRole      `json:"role,omitempty"`
	PeerUserID         UserID        `json:"peer_user_id,omitempty"`
	AudioEnabled       bool          `json:"audio_enabled"`
	VideoEnabled       bool          `json:"video_enabled"`
	RemoteAudioEnabled bool          `json:"remote_audio_enabled"`
	RemoteVideoEnabled bool          `json:"remote_video_enabled"`
	RemoteTracks       []RemoteTrack `json:"remote_tracks,omitempty"`
	LastError          string        `json:"last_error,omitempty"`
}

func (s *CallSession) Snapshot() CallState {
	if s == nil {
		return CallState{Status: StatusIdle}
	}
	return CallState{
		Status:             s.Status,
		CallID:             s.ID,
		Role:               s.Role,
		PeerUserID:         s.Peer,
		AudioEnabled:       s.AudioEnabled,
		VideoEnabled:       s.VideoEnabled,
		RemoteAudioEnabled: s.RemoteAudioEnabled,
		RemoteVideoEnabled: s.RemoteVideoEnabled,
		RemoteTracks:       s.RemoteTracks,
		LastError:          s.LastError,
	}
}
