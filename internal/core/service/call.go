// Package service contains the call state machine. All UI intents,
// signaling events and peer-connection notifications are serialized
// through one run loop, so no two transitions ever execute concurrently
// for the same session and the CallSession needs no locking.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdAccept
	cmdDecline
	cmdEnd
	cmdToggleMic
	cmdToggleCamera
	cmdAckError
)

type command struct {
	kind    commandKind
	peer    domain.UserID
	enabled bool
}

// Internal loop messages produced by peer callbacks and async operations.
type (
	peerStateMsg      domain.PeerState
	localCandidateMsg domain.ICECandidate
	remoteTrackMsg    domain.RemoteTrack

	negotiationFailed struct {
		callID domain.CallID
		err    error
	}
)

// CallService drives the call lifecycle: it consumes UI intents and
// signaling events, commands the peer connector and media engine, and
// publishes call-state snapshots to subscribers.
type CallService struct {
	gateway port.SignalingGateway
	peers   port.PeerConnector
	media   port.MediaEngine
	log     zerolog.Logger

	commands    chan command
	internal    chan any
	subscribe   chan chan domain.CallState
	unsubscribe chan chan domain.CallState

	done      chan struct{}
	closeOnce sync.Once

	stateMu sync.RWMutex
	state   domain.CallState

	// Loop-owned; never touched outside run().
	session    *domain.CallSession
	sessCancel context.CancelFunc
	sessCtx    context.Context
	subs       map[chan domain.CallState]struct{}
}

func NewCallService(gateway port.SignalingGateway, peers port.PeerConnector, media port.MediaEngine) *CallService {
	s := &CallService{
		gateway:     gateway,
		peers:       peers,
		media:       media,
		log:         log.With().Str("component", "call").Logger(),
		commands:    make(chan command),
		internal:    make(chan any, 64),
		subscribe:   make(chan chan domain.CallState),
		unsubscribe: make(chan chan domain.CallState),
		done:        make(chan struct{}),
		state:       domain.CallState{Status: domain.StatusIdle},
		subs:        make(map[chan domain.CallState]struct{}),
	}

	peers.OnLocalCandidate(func(c domain.ICECandidate) { s.post(localCandidateMsg(c)) })
	peers.OnStateChange(func(ps domain.PeerState) { s.post(peerStateMsg(ps)) })
	peers.OnRemoteTrack(func(t domain.RemoteTrack) { s.post(remoteTrackMsg(t)) })

	go s.run()
	return s
}

// UI intents. Each enqueues a command for the run loop and returns.

func (s *CallService) StartCall(peer domain.UserID) { s.enqueue(command{kind: cmdStart, peer: peer}) }
func (s *CallService) AcceptCall()                  { s.enqueue(command{kind: cmdAccept}) }
func (s *CallService) DeclineCall()                 { s.enqueue(command{kind: cmdDecline}) }
func (s *CallService) EndCall()                     { s.enqueue(command{kind: cmdEnd}) }
func (s *CallService) AcknowledgeError()            { s.enqueue(command{kind: cmdAckError}) }

func (s *CallService) ToggleMic(enabled bool) {
	s.enqueue(command{kind: cmdToggleMic, enabled: enabled})
}

func (s *CallService) ToggleCamera(enabled bool) {
	s.enqueue(command{kind: cmdToggleCamera, enabled: enabled})
}

// State returns the latest published snapshot.
func (s *CallService) State() domain.CallState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Subscribe registers a state listener. The current state is delivered
// first; slow listeners miss intermediate snapshots, never the latest.
func (s *CallService) Subscribe() (<-chan domain.CallState, func()) {
	ch := make(chan domain.CallState, 1)
	select {
	case s.subscribe <- ch:
	case <-s.done:
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		select {
		case s.unsubscribe <- ch:
		case <-s.done:
		}
	}
}

// Close ends any active call and stops the loop.
func (s *CallService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *CallService) enqueue(cmd command) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

func (s *CallService) post(msg any) {
	select {
	case s.internal <- msg:
	case <-s.done:
	default:
		// The loop is the only consumer; a full queue here means it is
		// wedged, which a dropped notification will not fix.
		s.log.Warn().Msg("Internal queue full, dropping notification")
	}
}

func (s *CallService) run() {
	events := s.gateway.Events()
	for {
		select {
		case <-s.done:
			if s.session != nil && s.session.Status.Active() {
				s.endLocally("shutdown")
			}
			for ch := range s.subs {
				close(ch)
			}
			return

		case cmd := <-s.commands:
			s.handleCommand(cmd)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)

		case msg := <-s.internal:
			s.handleInternal(msg)

		case ch := <-s.subscribe:
			s.subs[ch] = struct{}{}
			ch <- s.snapshot()

		case ch := <-s.unsubscribe:
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		}
	}
}

// ── UI intents ───────────────────────────────────────────────────────────

func (s *CallService) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		s.startCall(cmd.peer)
	case cmdAccept:
		s.acceptCall()
	case cmdDecline:
		s.declineCall()
	case cmdEnd:
		if s.session != nil && s.session.Status.Active() {
			s.endLocally("hangup")
		}
	case cmdToggleMic:
		s.toggleMedia(domain.MediaAudio, cmd.enabled)
	case cmdToggleCamera:
		s.toggleMedia(domain.MediaVideo, cmd.enabled)
	case cmdAckError:
		if s.session != nil && s.session.Status == domain.StatusError {
			s.session = nil
			s.publish()
		}
	}
}

func (s *CallService) startCall(peer domain.UserID) {
	if s.session != nil && s.session.Status.Active() {
		s.log.Warn().Str("peer", peer.String()).Msg("Start ignored, call in progress")
		return
	}

	s.session = domain.NewOutgoingSession(peer, true, true)
	s.sessCtx, s.sessCancel = context.WithCancel(context.Background())

	if err := s.gateway.StartCall(s.sessCtx, peer, true, true); err != nil {
		s.log.Error().Err(err).Msg("Start call emit failed")
		s.fail("", err)
		return
	}
	s.log.Info().Str("peer", peer.String()).Msg("Outgoing call started")
	s.publish()
}

func (s *CallService) acceptCall() {
	if s.session == nil || s.session.Status != domain.StatusRingingIncoming {
		s.log.Warn().Msg("Accept ignored, no ringing incoming call")
		return
	}

	sess := s.session
	sess.Status = domain.StatusConnecting
	if err := s.gateway.AcceptCall(s.sessCtx, sess.ID, sess.WithAudio, sess.WithVideo); err != nil {
		s.log.Error().Err(err).Msg("Accept emit failed")
		s.fail(sess.ID, err)
		return
	}

	if offer := sess.PendingRemoteOffer; offer != nil {
		// The offer arrived while ringing and was held; answer it now.
		sess.PendingRemoteOffer = nil
		s.onRemoteOffer(*offer)
	} else {
		// Warm up the peer connection so the caller's offer can be
		// answered without the media-acquisition delay in the critical
		// path.
		s.spawn(sess.ID, func(ctx context.Context) error {
			_, err := s.peers.Ensure(ctx, sess.WithAudio, sess.WithVideo)
			return err
		})
	}
	s.log.Info().Str("call_id", sess.ID.String()).Msg("Call accepted")
	s.publish()
}

func (s *CallService) declineCall() {
	if s.session == nil || s.session.Status != domain.StatusRingingIncoming {
		s.log.Warn().Msg("Decline ignored, no ringing incoming call")
		return
	}
	callID := s.session.ID
	if err := s.gateway.DeclineCall(context.Background(), callID); err != nil {
		s.log.Error().Err(err).Msg("Decline emit failed")
	}
	s.log.Info().Str("call_id", callID.String()).Msg("Call declined")
	s.reset()
}

func (s *CallService) toggleMedia(media domain.MediaType, enabled bool) {
	if media == domain.MediaAudio {
		s.media.SetAudioEnabled(enabled)
	} else {
		s.media.SetVideoEnabled(enabled)
	}

	if s.session == nil {
		return
	}
	if media == domain.MediaAudio {
		s.session.AudioEnabled = enabled
	} else {
		s.session.VideoEnabled = enabled
	}

	// Best effort: the remote indicator catches up or it does not; the
	// local toggle never waits on it.
	if !s.session.ID.IsZero() {
		if err := s.gateway.ToggleMedia(context.Background(), s.session.ID, media, enabled); err != nil {
			s.log.Warn().Err(err).Msg("Media toggle emit failed")
		}
	}
	s.publish()
}

// ── Signaling events ─────────────────────────────────────────────────────

func (s *CallService) handleEvent(ev domain.Event) {
	switch ev.Type {
	case domain.EventIdentityConfirmed:
		s.log.Debug().Msg("Identity confirmed")

	case domain.EventConnectionError:
		// Transient by contract: re-identification is the gateway's job
		// and an established call survives a brief signaling drop.
		s.log.Warn().Err(ev.Err).Msg("Signaling connection error")

	case domain.EventIncomingCall:
		s.onIncomingCall(ev)

	case domain.EventCallStarted:
		s.onCallStarted(ev)

	case domain.EventCallAccepted:
		if !s.matchesSession(ev) {
			return
		}
		s.session.Status = domain.StatusConnected
		s.log.Info().Str("call_id", ev.CallID.String()).Msg("Call connected")
		s.publish()

	case domain.EventCallDeclined, domain.EventCallTimeout:
		if !s.matchesSession(ev) {
			return
		}
		s.log.Info().Str("call_id", ev.CallID.String()).Str("reason", ev.Reason).
			Msg("Call declined by remote")
		s.reset()

	case domain.EventCallEnded:
		if !s.matchesSession(ev) {
			return
		}
		s.log.Info().Str("call_id", ev.CallID.String()).Str("reason", ev.Reason).Msg("Call ended by remote")
		s.reset()

	case domain.EventSignalOffer:
		if !s.matchesSession(ev) || ev.SDP == nil {
			return
		}
		switch s.session.Status {
		case domain.StatusRingingIncoming:
			// The caller's offer routinely lands while still ringing.
			// Answering now would create the peer connection and touch
			// capture devices before the user accepted; hold it until then.
			d := *ev.SDP
			s.session.PendingRemoteOffer = &d
		case domain.StatusConnecting:
			s.onRemoteOffer(*ev.SDP)
		default:
			s.log.Warn().Str("call_id", ev.CallID.String()).
				Str("status", string(s.session.Status)).Msg("Dropping offer in unexpected state")
		}

	case domain.EventSignalAnswer:
		if !s.matchesSession(ev) || ev.SDP == nil {
			return
		}
		s.onRemoteAnswer(*ev.SDP)

	case domain.EventIceCandidate:
		if !s.matchesSession(ev) || ev.Candidate == nil {
			return
		}
		if err := s.peers.AddRemoteCandidate(*ev.Candidate); err != nil {
			s.log.Warn().Err(err).Msg("Remote candidate rejected")
		}

	case domain.EventMediaToggled:
		if !s.matchesSession(ev) {
			return
		}
		if ev.Media == domain.MediaAudio {
			s.session.RemoteAudioEnabled = ev.Enabled
		} else {
			s.session.RemoteVideoEnabled = ev.Enabled
		}
		s.publish()
	}
}

// matchesSession drops events that do not belong to the active session.
// A stale call id must never touch the live peer connection.
func (s *CallService) matchesSession(ev domain.Event) bool {
	if s.session == nil || s.session.ID.IsZero() || s.session.ID != ev.CallID {
		s.log.Warn().Str("event", string(ev.Type)).Str("call_id", ev.CallID.String()).
			Msg("Dropping event for stale or unknown call")
		return false
	}
	return true
}

func (s *CallService) onIncomingCall(ev domain.Event) {
	if s.session != nil && s.session.Status.Active() {
		// Busy: decline the new call, leave the active one untouched.
		s.log.Info().Str("call_id", ev.CallID.String()).Msg("Busy, declining incoming call")
		if err := s.gateway.DeclineCall(context.Background(), ev.CallID); err != nil {
			s.log.Warn().Err(err).Msg("Busy decline emit failed")
		}
		return
	}

	s.session = domain.NewIncomingSession(ev.CallID, ev.From, ev.WithAudio, ev.WithVideo)
	s.sessCtx, s.sessCancel = context.WithCancel(context.Background())
	s.log.Info().Str("call_id", ev.CallID.String()).Str("caller", ev.From.String()).
		Msg("Incoming call")
	s.publish()
}

// onCallStarted is the caller-side acknowledgement that assigns the call
// id. It kicks off offer negotiation exactly once; duplicate events
// (reconnect echoes) are ignored.
func (s *CallService) onCallStarted(ev domain.Event) {
	sess := s.session
	if sess == nil || sess.Role != domain.RoleCaller || sess.Status != domain.StatusRingingOutgoing {
		s.log.Warn().Str("call_id", ev.CallID.String()).Msg("Dropping unexpected callStarted")
		return
	}
	if !sess.ID.IsZero() {
		if sess.ID != ev.CallID {
			s.log.Warn().Str("call_id", ev.CallID.String()).Msg("Dropping callStarted for stale call")
		}
		return
	}

	sess.ID = ev.CallID
	s.flushLocalCandidates()

	callID := ev.CallID
	withAudio, withVideo := sess.WithAudio, sess.WithVideo
	s.spawn(callID, func(ctx context.Context) error {
		if _, err := s.peers.Ensure(ctx, withAudio, withVideo); err != nil {
			return err
		}
		offer, err := s.peers.CreateOffer(ctx)
		if err != nil {
			return err
		}
		return s.gateway.SendOffer(ctx, callID, offer)
	})
	s.publish()
}

func (s *CallService) onRemoteOffer(desc domain.SessionDescription) {
	sess := s.session
	callID := sess.ID
	withAudio, withVideo := sess.WithAudio, sess.WithVideo
	s.spawn(callID, func(ctx context.Context) error {
		if _, err := s.peers.Ensure(ctx, withAudio, withVideo); err != nil {
			return err
		}
		if err := s.peers.ApplyRemoteDescription(ctx, desc); err != nil {
			return err
		}
		answer, err := s.peers.CreateAnswer(ctx)
		if err != nil {
			return err
		}
		return s.gateway.SendAnswer(ctx, callID, answer)
	})
}

func (s *CallService) onRemoteAnswer(desc domain.SessionDescription) {
	callID := s.session.ID
	s.spawn(callID, func(ctx context.Context) error {
		return s.peers.ApplyRemoteDescription(ctx, desc)
	})
}

// ── Internal notifications ───────────────────────────────────────────────

func (s *CallService) handleInternal(msg any) {
	switch m := msg.(type) {
	case localCandidateMsg:
		s.onLocalCandidate(domain.ICECandidate(m))

	case remoteTrackMsg:
		if s.session == nil {
			return
		}
		s.session.RemoteTracks = append(s.session.RemoteTracks, domain.RemoteTrack(m))
		s.publish()

	case peerStateMsg:
		s.onPeerState(domain.PeerState(m))

	case negotiationFailed:
		if s.session == nil || s.session.ID != m.callID {
			// Result of an operation cancelled by teardown.
			s.log.Debug().Err(m.err).Msg("Ignoring stale negotiation failure")
			return
		}
		s.fail(m.callID, m.err)
	}
}

func (s *CallService) onLocalCandidate(c domain.ICECandidate) {
	if s.session == nil || !s.session.Status.Active() {
		return
	}
	if s.session.ID.IsZero() {
		// Candidate generated before the signaling counterpart assigned
		// the call id; held until callStarted.
		s.session.PendingLocalCandidates = append(s.session.PendingLocalCandidates, c)
		return
	}
	if err := s.gateway.SendCandidate(context.Background(), s.session.ID, c); err != nil {
		s.log.Warn().Err(err).Msg("Candidate emit failed")
	}
}

func (s *CallService) flushLocalCandidates() {
	sess := s.session
	for _, c := range sess.PendingLocalCandidates {
		if err := s.gateway.SendCandidate(context.Background(), sess.ID, c); err != nil {
			s.log.Warn().Err(err).Msg("Candidate emit failed")
		}
	}
	sess.PendingLocalCandidates = nil
}

func (s *CallService) onPeerState(ps domain.PeerState) {
	if s.session == nil || !s.session.Status.Active() {
		return
	}
	switch ps {
	case domain.PeerStateConnected:
		if s.session.Status == domain.StatusConnecting {
			s.session.Status = domain.StatusConnected
			s.log.Info().Str("call_id", s.session.ID.String()).Msg("Media path connected")
			s.publish()
		}
	case domain.PeerStateFailed:
		s.fail(s.session.ID, errors.New("ice connection failed"))
	case domain.PeerStateDisconnected:
		// ICE may recover on its own; surface nothing yet.
		s.log.Warn().Str("call_id", s.session.ID.String()).Msg("Media path disconnected")
	}
}

// ── Teardown paths ───────────────────────────────────────────────────────

// spawn runs one async negotiation step bound to the session context.
// Failures return to the loop tagged with the call id, so results of a
// torn-down session are recognized and dropped.
func (s *CallService) spawn(callID domain.CallID, fn func(context.Context) error) {
	ctx := s.sessCtx
	go func() {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.post(negotiationFailed{callID: callID, err: err})
		}
	}()
}

// endLocally emits endCall and releases everything.
func (s *CallService) endLocally(reason string) {
	s.session.Status = domain.StatusEnding
	s.publish()

	if !s.session.ID.IsZero() {
		if err := s.gateway.EndCall(context.Background(), s.session.ID); err != nil {
			s.log.Warn().Err(err).Msg("End call emit failed")
		}
	}
	s.log.Info().Str("reason", reason).Msg("Call ended locally")
	s.reset()
}

// reset releases all session resources and returns to idle. The session
// object is destroyed here and only here.
func (s *CallService) reset() {
	if s.sessCancel != nil {
		s.sessCancel()
		s.sessCancel = nil
		s.sessCtx = nil
	}
	s.peers.Teardown()
	s.media.Release()
	s.session = nil
	s.publish()
}

// fail releases resources but parks in the error state until the UI
// acknowledges, so the reason stays visible.
func (s *CallService) fail(callID domain.CallID, err error) {
	s.log.Error().Err(err).Str("call_id", callID.String()).Msg("Call failed")

	if s.sessCancel != nil {
		s.sessCancel()
		s.sessCancel = nil
		s.sessCtx = nil
	}
	s.peers.Teardown()
	s.media.Release()

	if s.session == nil {
		s.session = &domain.CallSession{}
	}
	s.session.Status = domain.StatusError
	s.session.LastError = err.Error()
	s.publish()
}

// ── State publication ────────────────────────────────────────────────────

func (s *CallService) snapshot() domain.CallState {
	return s.session.Snapshot()
}

func (s *CallService) publish() {
	snap := s.snapshot()

	s.stateMu.Lock()
	s.state = snap
	s.stateMu.Unlock()

	for ch := range s.subs {
		// Subscribers hold a one-slot buffer: stale snapshot out, fresh in.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
