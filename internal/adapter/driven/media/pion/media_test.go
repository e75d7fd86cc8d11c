package pion

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubEngine(calls *int) *Engine {
	e := NewEngine()
	e.capture = func(_ context.Context, audio, video bool) (*localTracks, error) {
		*calls++
		return &localTracks{hasAudio: audio, hasVideo: video}, nil
	}
	return e
}

func TestAcquireIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	var calls int
	e := newStubEngine(&calls)

	first, err := e.Acquire(context.Background(), true, true)
	require.NoError(t, err)

	second, err := e.Acquire(context.Background(), true, true)
	require.NoError(t, err)

	assert.Same(first, second, "second acquire must return the held tracks")
	assert.Equal(1, calls, "devices must be opened once per session")

	// A new session opens devices again.
	e.Release()
	_, err = e.Acquire(context.Background(), true, true)
	require.NoError(t, err)
	assert.Equal(2, calls)
}

func TestAcquireFailureIsNotCached(t *testing.T) {
	e := NewEngine()
	captureErr := errors.New("device busy")
	var calls int
	e.capture = func(context.Context, bool, bool) (*localTracks, error) {
		calls++
		return nil, captureErr
	}

	_, err := e.Acquire(context.Background(), true, true)
	require.ErrorIs(t, err, captureErr)

	_, err = e.Acquire(context.Background(), true, true)
	require.ErrorIs(t, err, captureErr)
	assert.Equal(t, 2, calls, "a failed acquire must not stick")
}

func audioSender(t *testing.T) (*webrtc.RTPSender, *webrtc.TrackLocalStaticSample, *webrtc.PeerConnection) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "capture")
	require.NoError(t, err)

	sender, err := pc.AddTrack(track)
	require.NoError(t, err)
	return sender, track, pc
}

func TestToggleDetachesAndReattachesTrack(t *testing.T) {
	assert := assert.New(t)
	e := NewEngine()
	sender, track, _ := audioSender(t)
	e.bindSender(sender, track)
	require.NotNil(t, sender.Track())

	// Muting must stop the outgoing media, not just flip a flag.
	e.SetAudioEnabled(false)
	assert.Nil(sender.Track(), "disabled media must be detached from the sender")

	// The video toggle must not touch the audio sender.
	e.SetVideoEnabled(false)
	assert.Nil(sender.Track())

	e.SetAudioEnabled(true)
	assert.Equal(webrtc.TrackLocal(track), sender.Track())
}

func TestBindSenderAppliesExistingMute(t *testing.T) {
	e := NewEngine()
	e.SetAudioEnabled(false)

	sender, track, _ := audioSender(t)
	e.bindSender(sender, track)
	assert.Nil(t, sender.Track(), "a mute set before the call must hold when the track binds")
}

func TestReleaseDropsSenders(t *testing.T) {
	e := NewEngine()
	sender, track, _ := audioSender(t)
	e.bindSender(sender, track)

	e.Release()

	// Toggling after release must not reach the dead sender.
	e.SetAudioEnabled(false)
	assert.NotNil(t, sender.Track())
}
