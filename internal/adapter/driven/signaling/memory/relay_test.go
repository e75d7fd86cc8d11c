package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
)

func recvEvent(t *testing.T, gw port.SignalingGateway) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-gw.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

// register drains the identity confirmation so tests start from a clean
// stream.
func register(t *testing.T, r *Relay, user domain.UserID) port.SignalingGateway {
	t.Helper()
	gw := r.Register(user)
	ev := recvEvent(t, gw)
	require.Equal(t, domain.EventIdentityConfirmed, ev.Type)
	return gw
}

func TestCallLifecycleIsRelayed(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")

	require.NoError(t, alice.StartCall(ctx, "bob", true, true))

	started := recvEvent(t, alice)
	require.Equal(t, domain.EventCallStarted, started.Type)
	callID := started.CallID
	require.False(t, callID.IsZero())

	incoming := recvEvent(t, bob)
	require.Equal(t, domain.EventIncomingCall, incoming.Type)
	assert.Equal(t, callID, incoming.CallID)
	assert.Equal(t, domain.UserID("alice"), incoming.From)
	assert.True(t, incoming.WithVideo)

	require.NoError(t, bob.AcceptCall(ctx, callID, true, true))
	accepted := recvEvent(t, alice)
	require.Equal(t, domain.EventCallAccepted, accepted.Type)
	assert.Equal(t, callID, accepted.CallID)

	// Negotiation traffic crosses in both directions.
	offer := domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0 offer"}
	require.NoError(t, alice.SendOffer(ctx, callID, offer))
	got := recvEvent(t, bob)
	require.Equal(t, domain.EventSignalOffer, got.Type)
	require.NotNil(t, got.SDP)
	assert.Equal(t, "v=0 offer", got.SDP.SDP)

	answer := domain.SessionDescription{Type: domain.SDPAnswer, SDP: "v=0 answer"}
	require.NoError(t, bob.SendAnswer(ctx, callID, answer))
	got = recvEvent(t, alice)
	require.Equal(t, domain.EventSignalAnswer, got.Type)

	require.NoError(t, alice.SendCandidate(ctx, callID, domain.ICECandidate{Candidate: "candidate:1"}))
	got = recvEvent(t, bob)
	require.Equal(t, domain.EventIceCandidate, got.Type)
	require.NotNil(t, got.Candidate)

	require.NoError(t, bob.ToggleMedia(ctx, callID, domain.MediaVideo, false))
	got = recvEvent(t, alice)
	require.Equal(t, domain.EventMediaToggled, got.Type)
	assert.Equal(t, domain.MediaVideo, got.Media)
	assert.False(t, got.Enabled)

	require.NoError(t, alice.EndCall(ctx, callID))
	got = recvEvent(t, bob)
	require.Equal(t, domain.EventCallEnded, got.Type)
	assert.Equal(t, "hangup", got.Reason)

	// The call is gone; further traffic is refused.
	err := alice.SendCandidate(ctx, callID, domain.ICECandidate{Candidate: "candidate:2"})
	require.ErrorIs(t, err, domain.ErrProtocol)
}

func TestDeclineReachesCaller(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")

	require.NoError(t, alice.StartCall(ctx, "bob", true, false))
	callID := recvEvent(t, alice).CallID
	recvEvent(t, bob)

	require.NoError(t, bob.DeclineCall(ctx, callID))
	declined := recvEvent(t, alice)
	require.Equal(t, domain.EventCallDeclined, declined.Type)
	assert.Equal(t, "declined", declined.Reason)
}

func TestUnansweredCallTimesOut(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	r.SetRingTimeout(30 * time.Millisecond)
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")

	require.NoError(t, alice.StartCall(ctx, "bob", true, true))
	recvEvent(t, alice)
	recvEvent(t, bob)

	for _, gw := range []port.SignalingGateway{alice, bob} {
		ev := recvEvent(t, gw)
		assert.Equal(t, domain.EventCallTimeout, ev.Type)
	}
}

func TestOfflineCalleeIsDeclined(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	alice := register(t, r, "alice")

	require.NoError(t, alice.StartCall(ctx, "nobody", true, true))
	started := recvEvent(t, alice)
	require.Equal(t, domain.EventCallStarted, started.Type)
	declined := recvEvent(t, alice)
	require.Equal(t, domain.EventCallDeclined, declined.Type)
	assert.Equal(t, started.CallID, declined.CallID)
	assert.Equal(t, "unavailable", declined.Reason)
}

func TestBusyCalleeIsDeclined(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	carol := register(t, r, "carol")

	require.NoError(t, alice.StartCall(ctx, "bob", true, true))
	callID := recvEvent(t, alice).CallID
	recvEvent(t, bob)
	require.NoError(t, bob.AcceptCall(ctx, callID, true, true))
	recvEvent(t, alice)

	require.NoError(t, carol.StartCall(ctx, "bob", true, true))
	recvEvent(t, carol) // callStarted
	declined := recvEvent(t, carol)
	require.Equal(t, domain.EventCallDeclined, declined.Type)
	assert.Equal(t, "busy", declined.Reason)
}

func TestCallerCannotDialWhileInCall(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	register(t, r, "carol")

	require.NoError(t, alice.StartCall(ctx, "bob", true, true))
	recvEvent(t, alice)
	recvEvent(t, bob)

	err := alice.StartCall(ctx, "carol", true, true)
	require.ErrorIs(t, err, domain.ErrBusy)
}

func TestDisconnectEndsActiveCall(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")

	require.NoError(t, alice.StartCall(ctx, "bob", true, true))
	callID := recvEvent(t, alice).CallID
	recvEvent(t, bob)
	require.NoError(t, bob.AcceptCall(ctx, callID, true, true))
	recvEvent(t, alice)

	require.NoError(t, bob.Close())
	ended := recvEvent(t, alice)
	require.Equal(t, domain.EventCallEnded, ended.Type)
	assert.Equal(t, "disconnected", ended.Reason)

	_, ok := <-bob.Events()
	assert.False(t, ok, "closed endpoint channel must be closed")
}
