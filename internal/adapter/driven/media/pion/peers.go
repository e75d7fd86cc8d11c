package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
)

const (
	// How long concurrent Ensure callers wait on an in-flight creation
	// before giving up with a negotiation error.
	defaultEnsureWait = 10 * time.Second

	pliInterval = 3 * time.Second
	rtpBufSize  = 1500
)

// handle is the opaque token the core gets back from Ensure.
type handle struct {
	pc   *webrtc.PeerConnection
	done chan struct{}
}

func (h *handle) State() domain.PeerState {
	return mapPeerState(h.pc.ConnectionState())
}

func (h *handle) close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	if err := h.pc.Close(); err != nil {
		log.Debug().Err(err).Msg("Peer connection close")
	}
}

// PeerManager implements port.PeerConnector: at most one live peer
// connection, one in-flight creation, remote candidates buffered until
// the remote description is applied.
type PeerManager struct {
	ice        port.IceServerProvider
	media      *Engine
	ensureWait time.Duration

	mu        sync.Mutex
	current   *handle
	creating  chan struct{}
	pending   []domain.ICECandidate
	remoteSet bool

	onCandidate   func(domain.ICECandidate)
	onState       func(domain.PeerState)
	onRemoteTrack func(domain.RemoteTrack)
}

func NewPeerManager(ice port.IceServerProvider, media *Engine) *PeerManager {
	return &PeerManager{
		ice:        ice,
		media:      media,
		ensureWait: defaultEnsureWait,
	}
}

func (m *PeerManager) OnLocalCandidate(fn func(domain.ICECandidate)) {
	m.mu.Lock()
	m.onCandidate = fn
	m.mu.Unlock()
}

func (m *PeerManager) OnStateChange(fn func(domain.PeerState)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

func (m *PeerManager) OnRemoteTrack(fn func(domain.RemoteTrack)) {
	m.mu.Lock()
	m.onRemoteTrack = fn
	m.mu.Unlock()
}

// Ensure returns the live handle, creating it if needed. Concurrent
// callers share a single creation: whoever arrives while one is in
// flight waits for its result instead of racing a second connection.
// The wait is bounded; on expiry a negotiation error surfaces rather
// than retrying forever.
func (m *PeerManager) Ensure(ctx context.Context, withAudio, withVideo bool) (port.PeerHandle, error) {
	deadline := time.NewTimer(m.ensureWait)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if m.current != nil {
			if !m.current.State().Terminal() {
				h := m.current
				m.mu.Unlock()
				return h, nil
			}
			// Terminal handle left over from a failed call. Discard.
			stale := m.current
			m.current = nil
			m.pending = nil
			m.remoteSet = false
			m.mu.Unlock()
			stale.close()
			continue
		}

		if m.creating != nil {
			inflight := m.creating
			m.mu.Unlock()
			select {
			case <-inflight:
				continue
			case <-deadline.C:
				return nil, domain.ErrCreationInFlight
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: ensure: %v", domain.ErrNegotiation, ctx.Err())
			}
		}

		inflight := make(chan struct{})
		m.creating = inflight
		m.mu.Unlock()

		h, err := m.create(ctx, withAudio, withVideo)

		m.mu.Lock()
		m.creating = nil
		if err == nil {
			m.current = h
			m.pending = nil
			m.remoteSet = false
		}
		m.mu.Unlock()
		close(inflight)

		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

func (m *PeerManager) create(ctx context.Context, withAudio, withVideo bool) (*handle, error) {
	servers, err := m.ice.Fetch(ctx)
	if err != nil {
		// Host/srflx candidates may still connect on a local network.
		log.Warn().Err(err).Msg("Proceeding without ICE servers")
	}

	api, err := newWebRTCAPI()
	if err != nil {
		return nil, fmt.Errorf("%w: webrtc api: %v", domain.ErrNegotiation, err)
	}

	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", domain.ErrNegotiation, err)
	}

	h := &handle{pc: pc, done: make(chan struct{})}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		m.mu.Lock()
		cb := m.onCandidate
		m.mu.Unlock()
		if cb != nil {
			cb(domain.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("Peer connection state")
		m.mu.Lock()
		cb := m.onState
		m.mu.Unlock()
		if cb != nil {
			cb(mapPeerState(s))
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Str("track_id", remote.ID()).Msg("Received remote track")

		m.mu.Lock()
		cb := m.onRemoteTrack
		m.mu.Unlock()
		if cb != nil {
			kind := domain.MediaAudio
			if remote.Kind() == webrtc.RTPCodecTypeVideo {
				kind = domain.MediaVideo
			}
			cb(domain.RemoteTrack{ID: remote.ID(), Kind: kind})
		}

		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go m.keyframeLoop(h, remote)
		}
		go drainTrack(remote)
	})

	if err := m.attachLocalMedia(ctx, pc, withAudio, withVideo); err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

// attachLocalMedia acquires capture and adds the tracks. A missing device
// downgrades to receive-only transceivers so the SDP still carries valid
// audio/video m-lines; any other media failure (permission denied, device
// busy) propagates and fails the call.
func (m *PeerManager) attachLocalMedia(ctx context.Context, pc *webrtc.PeerConnection, withAudio, withVideo bool) error {
	_, err := m.media.Acquire(ctx, withAudio, withVideo)
	if err != nil {
		if !errors.Is(err, domain.ErrDeviceUnavailable) {
			return err
		}
		log.Warn().Msg("No capture devices, proceeding receive-only")
		addRecvOnlyTransceivers(pc)
		return nil
	}

	lt := m.media.current()
	for _, t := range lt.tracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			log.Error().Err(err).Str("track_id", t.ID()).Msg("AddTrack failed")
			continue
		}
		m.media.bindSender(sender, t)
	}
	if !lt.hasAudio {
		addRecvOnlyTransceiver(pc, webrtc.RTPCodecTypeAudio)
	}
	if !lt.hasVideo {
		addRecvOnlyTransceiver(pc, webrtc.RTPCodecTypeVideo)
	}
	return nil
}

func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	addRecvOnlyTransceiver(pc, webrtc.RTPCodecTypeAudio)
	addRecvOnlyTransceiver(pc, webrtc.RTPCodecTypeVideo)
}

func addRecvOnlyTransceiver(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType) {
	if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Error().Err(err).Str("kind", kind.String()).Msg("AddTransceiver failed")
	}
}

// keyframeLoop requests a keyframe immediately and then periodically so
// remote video recovers from loss without waiting for the encoder.
func (m *PeerManager) keyframeLoop(h *handle, remote *webrtc.TrackRemote) {
	sendPLI := func() {
		err := h.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		})
		if err != nil {
			log.Debug().Err(err).Msg("PLI write failed")
		}
	}
	sendPLI()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			sendPLI()
		}
	}
}

func drainTrack(remote *webrtc.TrackRemote) {
	buf := make([]byte, rtpBufSize)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("track_id", remote.ID()).Msg("Remote track read ended")
			}
			return
		}
	}
}

func (m *PeerManager) livePC() (*webrtc.PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, fmt.Errorf("%w: no peer connection", domain.ErrNegotiation)
	}
	return m.current.pc, nil
}

func (m *PeerManager) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	pc, err := m.livePC()
	if err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: create offer: %v", domain.ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: set local description: %v", domain.ErrNegotiation, err)
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (m *PeerManager) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	pc, err := m.livePC()
	if err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: create answer: %v", domain.ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: set local description: %v", domain.ErrNegotiation, err)
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

// ApplyRemoteDescription sets the remote description, then flushes every
// candidate that arrived before it. Buffered candidates that fail to
// apply are logged and skipped; they do not abort the exchange.
func (m *PeerManager) ApplyRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	pc, err := m.livePC()
	if err != nil {
		return err
	}

	sdpType := webrtc.SDPTypeOffer
	if desc.Type == domain.SDPAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("%w: set remote description: %v", domain.ErrNegotiation, err)
	}

	m.mu.Lock()
	m.remoteSet = true
	buffered := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, c := range buffered {
		if err := pc.AddICECandidate(toCandidateInit(c)); err != nil {
			log.Warn().Err(err).Msg("Buffered candidate rejected")
		}
	}
	if len(buffered) > 0 {
		log.Debug().Int("count", len(buffered)).Msg("Flushed buffered remote candidates")
	}
	return nil
}

// AddRemoteCandidate applies a candidate, or buffers it when the remote
// description has not been set yet. Candidates must never be silently
// dropped on that race; they are flushed by ApplyRemoteDescription.
func (m *PeerManager) AddRemoteCandidate(candidate domain.ICECandidate) error {
	m.mu.Lock()
	if m.current == nil || !m.remoteSet {
		m.pending = append(m.pending, candidate)
		m.mu.Unlock()
		log.Debug().Msg("Buffered remote candidate before remote description")
		return nil
	}
	pc := m.current.pc
	m.mu.Unlock()

	if err := pc.AddICECandidate(toCandidateInit(candidate)); err != nil {
		return fmt.Errorf("%w: add ice candidate: %v", domain.ErrNegotiation, err)
	}
	return nil
}

// Teardown closes the connection and releases local media. Idempotent.
func (m *PeerManager) Teardown() {
	m.mu.Lock()
	h := m.current
	m.current = nil
	m.pending = nil
	m.remoteSet = false
	m.mu.Unlock()

	if h != nil {
		h.close()
	}
	m.media.Release()
}

func toCandidateInit(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func mapPeerState(s webrtc.PeerConnectionState) domain.PeerState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.PeerStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerStateClosed
	}
	return domain.PeerStateNew
}
