package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driven/signaling/memory"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/service"
)

type party struct {
	svc   *service.CallService
	peers *fakePeers
	media *fakeMedia
}

func newParty(t *testing.T, relay *memory.Relay, user domain.UserID) *party {
	t.Helper()
	p := &party{peers: &fakePeers{}, media: &fakeMedia{}}
	p.svc = service.NewCallService(relay.Register(user), p.peers, p.media)
	t.Cleanup(p.svc.Close)
	return p
}

// Two complete clients against the in-process relay, exercising the whole
// caller and callee paths at once. The peer connector is faked, so this
// covers signaling and state transitions, not ICE.
func TestTwoClientsCompleteACall(t *testing.T) {
	relay := memory.NewRelay()
	alice := newParty(t, relay, "alice")
	bob := newParty(t, relay, "bob")

	alice.svc.StartCall("bob")
	waitStatus(t, alice.svc, domain.StatusRingingOutgoing)
	waitStatus(t, bob.svc, domain.StatusRingingIncoming)

	callID := bob.svc.State().CallID
	require.False(t, callID.IsZero())
	assert.Equal(t, domain.UserID("alice"), bob.svc.State().PeerUserID)

	bob.svc.AcceptCall()
	waitStatus(t, alice.svc, domain.StatusConnected)

	// Alice's offer crossed the relay and Bob answered it.
	require.Eventually(t, func() bool {
		bob.peers.mu.Lock()
		defer bob.peers.mu.Unlock()
		return len(bob.peers.applied) == 1 && bob.peers.applied[0] == domain.SDPOffer
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		alice.peers.mu.Lock()
		defer alice.peers.mu.Unlock()
		return len(alice.peers.applied) == 1 && alice.peers.applied[0] == domain.SDPAnswer
	}, waitFor, tick)

	// Candidates generated on either side land on the other.
	require.NotNil(t, alice.peers.onCandidate)
	alice.peers.onCandidate(domain.ICECandidate{Candidate: "candidate:alice-1"})
	require.Eventually(t, func() bool { return bob.peers.candidateCount() == 1 }, waitFor, tick)

	require.NotNil(t, bob.peers.onCandidate)
	bob.peers.onCandidate(domain.ICECandidate{Candidate: "candidate:bob-1"})
	require.Eventually(t, func() bool { return alice.peers.candidateCount() == 1 }, waitFor, tick)

	// Bob's camera toggle shows up on Alice's remote flags.
	bob.svc.ToggleCamera(false)
	require.Eventually(t, func() bool {
		return !alice.svc.State().RemoteVideoEnabled
	}, waitFor, tick)

	// Bob's media path connecting flips him to connected too.
	bob.peers.onState(domain.PeerStateConnected)
	waitStatus(t, bob.svc, domain.StatusConnected)

	alice.svc.EndCall()
	waitStatus(t, alice.svc, domain.StatusIdle)
	waitStatus(t, bob.svc, domain.StatusIdle)
	assert.NotZero(t, bob.media.releaseCount())
	assert.NotZero(t, alice.media.releaseCount())
}

func TestCalleeDeclineOverRelay(t *testing.T) {
	relay := memory.NewRelay()
	alice := newParty(t, relay, "alice")
	bob := newParty(t, relay, "bob")

	alice.svc.StartCall("bob")
	waitStatus(t, bob.svc, domain.StatusRingingIncoming)

	bob.svc.DeclineCall()
	waitStatus(t, alice.svc, domain.StatusIdle)
	waitStatus(t, bob.svc, domain.StatusIdle)
	assert.Zero(t, bob.peers.ensureCount())
}

func TestDialingOfflineUserReturnsToIdle(t *testing.T) {
	relay := memory.NewRelay()
	alice := newParty(t, relay, "alice")

	alice.svc.StartCall("nobody")
	waitStatus(t, alice.svc, domain.StatusIdle)
}
