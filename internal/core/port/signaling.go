package port

import (
	"context"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

// SignalingGateway is the only surface the core needs from the persistent
// event channel. Outbound actions are fire-and-forget: delivery problems
// surface on the event stream, never as terminated processes. Identity
// announcement (and re-announcement after reconnects) is the adapter's
// job, not the core's.
type SignalingGateway interface {
	StartCall(ctx context.Context, target domain.UserID, withAudio, withVideo bool) error
	AcceptCall(ctx context.Context, callID domain.CallID, withAudio, withVideo bool) error
	DeclineCall(ctx context.Context, callID domain.CallID) error
	EndCall(ctx context.Context, callID domain.CallID) error
	SendOffer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription) error
	SendAnswer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription) error
	SendCandidate(ctx context.Context, callID domain.CallID, candidate domain.ICECandidate) error
	ToggleMedia(ctx context.Context, callID domain.CallID, media domain.MediaType, enabled bool) error

	// Events delivers inbound signaling events in arrival order. The
	// channel stays open across transport reconnects and closes only
	// after Close.
	Events() <-chan domain.Event

	Close() error
}
