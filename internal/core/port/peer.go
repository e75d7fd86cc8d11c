package port

import (
	"context"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

// PeerHandle is the opaque token for the live peer connection. The core
// never reaches through it; it only reads derived status.
type PeerHandle interface {
	State() domain.PeerState
}

// PeerConnector owns the single peer connection of the active call.
// Ensure is race-safe: concurrent callers share one in-flight creation
// and at most one live connection exists at any time. Callers must not
// hold a handle across Teardown; a new call means a new Ensure.
type PeerConnector interface {
	Ensure(ctx context.Context, withAudio, withVideo bool) (PeerHandle, error)
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)

	// ApplyRemoteDescription sets the remote description and flushes any
	// candidates buffered by AddRemoteCandidate before it was set.
	ApplyRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddRemoteCandidate(candidate domain.ICECandidate) error

	Teardown()

	// Callbacks; register before the first Ensure.
	OnLocalCandidate(fn func(domain.ICECandidate))
	OnStateChange(fn func(domain.PeerState))
	OnRemoteTrack(fn func(domain.RemoteTrack))
}
