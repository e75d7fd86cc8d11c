// Package pion owns everything that touches Pion WebRTC: the media engine
// for local capture and the peer manager for the call's single peer
// connection. The core talks to both through ports only.
package pion

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
)

// localTracks is the concrete port.LocalTracks. Capture is platform
// specific; the struct is not.
type localTracks struct {
	tracks   []webrtc.TrackLocal
	stop     func()
	hasAudio bool
	hasVideo bool
}

func (l *localTracks) HasAudio() bool { return l.hasAudio }
func (l *localTracks) HasVideo() bool { return l.hasVideo }

// senderRef pairs an RTP sender with the capture track it carries, so a
// disabled track can be detached and the same one reattached later.
type senderRef struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// Engine implements port.MediaEngine on pion/mediadevices.
type Engine struct {
	mu           sync.Mutex
	capture      captureFunc
	acquired     *localTracks
	senders      map[webrtc.RTPCodecType]senderRef
	audioEnabled bool
	videoEnabled bool
}

type captureFunc func(ctx context.Context, audio, video bool) (*localTracks, error)

func NewEngine() *Engine {
	return &Engine{
		capture:      captureLocalMedia,
		senders:      make(map[webrtc.RTPCodecType]senderRef),
		audioEnabled: true,
		videoEnabled: true,
	}
}

// Acquire opens capture devices. Idempotent per session: while tracks are
// held, further calls return them unchanged and never re-prompt devices.
func (e *Engine) Acquire(ctx context.Context, audio, video bool) (port.LocalTracks, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acquired != nil {
		return e.acquired, nil
	}

	lt, err := e.capture(ctx, audio, video)
	if err != nil {
		return nil, err
	}
	e.acquired = lt
	log.Info().Bool("audio", lt.hasAudio).Bool("video", lt.hasVideo).Msg("Local media acquired")
	return lt, nil
}

// Release stops all local tracks and forgets the senders they were
// attached to. Safe to call when nothing is acquired.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.senders = make(map[webrtc.RTPCodecType]senderRef)
	if e.acquired == nil {
		return
	}
	if e.acquired.stop != nil {
		e.acquired.stop()
	}
	e.acquired = nil
	log.Debug().Msg("Local media released")
}

// bindSender records the sender carrying a capture track, applying the
// current enabled state so a pre-call mute survives into the call.
func (e *Engine) bindSender(sender *webrtc.RTPSender, track webrtc.TrackLocal) {
	kind := track.Kind()

	e.mu.Lock()
	e.senders[kind] = senderRef{sender: sender, track: track}
	enabled := e.audioEnabled
	if kind == webrtc.RTPCodecTypeVideo {
		enabled = e.videoEnabled
	}
	e.mu.Unlock()

	if !enabled {
		if err := sender.ReplaceTrack(nil); err != nil {
			log.Warn().Err(err).Str("kind", kind.String()).Msg("Detach on bind failed")
		}
	}
}

func (e *Engine) SetAudioEnabled(enabled bool) {
	e.setEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

func (e *Engine) SetVideoEnabled(enabled bool) {
	e.setEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

// setEnabled gates the outgoing media: disabling detaches the capture
// track from its sender so the remote stops receiving, enabling puts the
// same track back.
func (e *Engine) setEnabled(kind webrtc.RTPCodecType, enabled bool) {
	e.mu.Lock()
	if kind == webrtc.RTPCodecTypeAudio {
		e.audioEnabled = enabled
	} else {
		e.videoEnabled = enabled
	}
	ref, bound := e.senders[kind]
	e.mu.Unlock()

	log.Debug().Bool("enabled", enabled).Str("kind", kind.String()).Msg("Local media toggled")
	if !bound {
		return
	}

	var track webrtc.TrackLocal
	if enabled {
		track = ref.track
	}
	if err := ref.sender.ReplaceTrack(track); err != nil {
		log.Warn().Err(err).Str("kind", kind.String()).Msg("Toggle failed")
	}
}

// current returns the acquired tracks, if any. Used by the peer manager
// to attach tracks without widening the port surface.
func (e *Engine) current() *localTracks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired
}
