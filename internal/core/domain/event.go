package domain

// EventType names match the wire event names of the signaling service.
type EventType string

const (
	EventIdentityConfirmed EventType = "identityConfirmed"
	EventIncomingCall      EventType = "incomingCall"
	EventCallStarted       EventType = "callStarted"
	EventCallAccepted      EventType = "callAccepted"
	EventCallDeclined      EventType = "callDeclined"
	EventCallEnded         EventType = "callEnded"
	EventCallTimeout       EventType = "callTimeout"
	EventSignalOffer       EventType = "signalOffer"
	EventSignalAnswer      EventType = "signalAnswer"
	EventIceCandidate      EventType = "iceCandidate"
	EventMediaToggled      EventType = "toggleMedia"
	EventConnectionError   EventType = "error"
)

// Event is one inbound signaling event. Which fields are set depends on
// Type; unused fields stay zero.
type Event struct {
	Type   EventType
	CallID CallID

	// From is the other party: caller on incomingCall, callee on
	// callAccepted, target echo on callStarted.
	From UserID

	WithAudio bool
	WithVideo bool

	Reason string

	SDP       *SessionDescription
	Candidate *ICECandidate

	Media   MediaType
	Enabled bool

	// Err is set on connection-level error events only.
	Err error
}
