package pion

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
)

type staticProvider struct {
	servers []domain.IceServer
}

func (p *staticProvider) Fetch(ctx context.Context) ([]domain.IceServer, error) {
	return p.servers, nil
}

func newTestManager() *PeerManager {
	return NewPeerManager(&staticProvider{}, NewEngine())
}

// remoteOffer builds a valid offer from an independent peer connection,
// standing in for the remote side of the exchange.
func remoteOffer(t *testing.T) (domain.SessionDescription, *webrtc.PeerConnection) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))

	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, pc
}

func TestEnsureReturnsOneHandleUnderConcurrency(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager()
	defer m.Teardown()

	const callers = 8
	handles := make([]port.PeerHandle, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.Ensure(context.Background(), true, true)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	for i := 1; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(handles[0], handles[i], "every caller must share the single live handle")
	}
}

func TestEnsureAfterTeardownCreatesFreshHandle(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager()
	defer m.Teardown()

	h1, err := m.Ensure(context.Background(), true, true)
	require.NoError(t, err)

	m.Teardown()
	assert.Equal(domain.PeerStateClosed, h1.State())

	h2, err := m.Ensure(context.Background(), true, true)
	require.NoError(t, err)
	assert.NotEqual(h1, h2)
	assert.NotEqual(domain.PeerStateClosed, h2.State())
}

func TestRemoteCandidatesBufferedUntilDescription(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager()
	defer m.Teardown()

	_, err := m.Ensure(context.Background(), true, false)
	require.NoError(t, err)

	mid := "0"
	idx := uint16(0)
	early := domain.ICECandidate{
		Candidate:     "candidate:1 1 UDP 2122252543 192.0.2.10 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	// Before the remote description this must buffer, not fail and not
	// reach the connection.
	assert.NoError(m.AddRemoteCandidate(early))
	m.mu.Lock()
	buffered := len(m.pending)
	m.mu.Unlock()
	assert.Equal(1, buffered)

	offer, remote := remoteOffer(t)
	defer remote.Close()

	require.NoError(t, m.ApplyRemoteDescription(context.Background(), offer))

	m.mu.Lock()
	buffered = len(m.pending)
	m.mu.Unlock()
	assert.Zero(buffered, "buffer must be flushed after the remote description")

	// Candidates after the description apply directly.
	assert.NoError(m.AddRemoteCandidate(early))

	answer, err := m.CreateAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(domain.SDPAnswer, answer.Type)
	assert.NotEmpty(answer.SDP)
}

func TestOperationsWithoutConnectionFail(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager()

	_, err := m.CreateOffer(context.Background())
	assert.ErrorIs(err, domain.ErrNegotiation)

	err = m.ApplyRemoteDescription(context.Background(), domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"})
	assert.ErrorIs(err, domain.ErrNegotiation)
}

func TestTeardownIsIdempotent(t *testing.T) {
	m := newTestManager()
	_, err := m.Ensure(context.Background(), true, true)
	require.NoError(t, err)

	m.Teardown()
	m.Teardown()
}
