// Package memory provides an in-process signaling relay. It pairs two
// gateway endpoints inside one process and mirrors the wire protocol of
// the real signaling service, which makes it the backbone for end-to-end
// tests and local demos without a server.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
)

const (
	defaultRingTimeout = 30 * time.Second
	eventBuffer        = 32
)

type relayCall struct {
	id       domain.CallID
	caller   domain.UserID
	callee   domain.UserID
	accepted bool
	ringer   *time.Timer
}

func (c *relayCall) other(from domain.UserID) domain.UserID {
	if from == c.caller {
		return c.callee
	}
	return c.caller
}

// Relay routes call signaling between registered endpoints. One user may
// hold at most one call at a time; a second start against a busy user is
// declined by the relay itself.
type Relay struct {
	mu          sync.Mutex
	endpoints   map[domain.UserID]*Endpoint
	calls       map[domain.CallID]*relayCall
	byUser      map[domain.UserID]domain.CallID
	ringTimeout time.Duration
	log         zerolog.Logger
}

func NewRelay() *Relay {
	return &Relay{
		endpoints:   make(map[domain.UserID]*Endpoint),
		calls:       make(map[domain.CallID]*relayCall),
		byUser:      make(map[domain.UserID]domain.CallID),
		ringTimeout: defaultRingTimeout,
		log:         log.With().Str("component", "relay").Logger(),
	}
}

// SetRingTimeout overrides how long an unanswered call rings. Call it
// before any endpoint starts a call.
func (r *Relay) SetRingTimeout(d time.Duration) {
	r.mu.Lock()
	r.ringTimeout = d
	r.mu.Unlock()
}

// Register creates the signaling endpoint for a user. Registering an id
// twice replaces the previous endpoint and closes its event stream.
func (r *Relay) Register(user domain.UserID) port.SignalingGateway {
	ep := &Endpoint{
		relay:  r,
		user:   user,
		events: make(chan domain.Event, eventBuffer),
	}

	r.mu.Lock()
	if old, ok := r.endpoints[user]; ok {
		old.closeEvents()
	}
	r.endpoints[user] = ep
	r.mu.Unlock()

	ep.deliver(domain.Event{Type: domain.EventIdentityConfirmed})
	return ep
}

func (r *Relay) deliverTo(user domain.UserID, ev domain.Event) {
	r.mu.Lock()
	ep := r.endpoints[user]
	r.mu.Unlock()
	if ep == nil {
		r.log.Warn().Str("user", user.String()).Str("event", string(ev.Type)).
			Msg("No endpoint for user, dropping event")
		return
	}
	ep.deliver(ev)
}

func (r *Relay) startCall(caller, callee domain.UserID, withAudio, withVideo bool) error {
	r.mu.Lock()

	if _, busy := r.byUser[caller]; busy {
		r.mu.Unlock()
		return fmt.Errorf("%w: caller already in a call", domain.ErrBusy)
	}

	call := &relayCall{
		id:     domain.NewCallID(),
		caller: caller,
		callee: callee,
	}

	reason := ""
	if _, online := r.endpoints[callee]; !online {
		reason = "unavailable"
	} else if _, busy := r.byUser[callee]; busy {
		reason = "busy"
	}
	if reason != "" {
		r.mu.Unlock()
		// The caller still gets the call id before the decline, so its
		// state machine can correlate the two events.
		r.deliverTo(caller, domain.Event{
			Type: domain.EventCallStarted, CallID: call.id, From: callee,
		})
		r.deliverTo(caller, domain.Event{
			Type: domain.EventCallDeclined, CallID: call.id, From: callee, Reason: reason,
		})
		return nil
	}

	r.calls[call.id] = call
	r.byUser[caller] = call.id
	r.byUser[callee] = call.id
	timeout := r.ringTimeout
	call.ringer = time.AfterFunc(timeout, func() { r.ringExpired(call.id) })
	r.mu.Unlock()

	r.log.Info().Str("call_id", call.id.String()).
		Str("caller", caller.String()).Str("callee", callee.String()).Msg("Call routed")

	r.deliverTo(caller, domain.Event{
		Type: domain.EventCallStarted, CallID: call.id, From: callee,
	})
	r.deliverTo(callee, domain.Event{
		Type: domain.EventIncomingCall, CallID: call.id, From: caller,
		WithAudio: withAudio, WithVideo: withVideo,
	})
	return nil
}

func (r *Relay) ringExpired(id domain.CallID) {
	r.mu.Lock()
	call, ok := r.calls[id]
	if !ok || call.accepted {
		r.mu.Unlock()
		return
	}
	r.removeLocked(call)
	r.mu.Unlock()

	r.log.Info().Str("call_id", id.String()).Msg("Ring timeout")
	ev := domain.Event{Type: domain.EventCallTimeout, CallID: id, Reason: "timeout"}
	r.deliverTo(call.caller, ev)
	r.deliverTo(call.callee, ev)
}

func (r *Relay) acceptCall(from domain.UserID, id domain.CallID) error {
	r.mu.Lock()
	call, ok := r.calls[id]
	if !ok || call.callee != from {
		r.mu.Unlock()
		return fmt.Errorf("%w: accept for unknown call %s", domain.ErrStaleCall, id)
	}
	call.accepted = true
	if call.ringer != nil {
		call.ringer.Stop()
	}
	r.mu.Unlock()

	r.deliverTo(call.caller, domain.Event{
		Type: domain.EventCallAccepted, CallID: id, From: from,
	})
	return nil
}

func (r *Relay) declineCall(from domain.UserID, id domain.CallID) error {
	call := r.take(id)
	if call == nil {
		return nil
	}
	r.deliverTo(call.other(from), domain.Event{
		Type: domain.EventCallDeclined, CallID: id, From: from, Reason: "declined",
	})
	return nil
}

func (r *Relay) endCall(from domain.UserID, id domain.CallID) error {
	call := r.take(id)
	if call == nil {
		return nil
	}
	r.deliverTo(call.other(from), domain.Event{
		Type: domain.EventCallEnded, CallID: id, From: from, Reason: "hangup",
	})
	return nil
}

// take removes the call and releases both parties. Unknown ids are a
// no-op so duplicate end/decline emits stay harmless.
func (r *Relay) take(id domain.CallID) *relayCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return nil
	}
	r.removeLocked(call)
	return call
}

func (r *Relay) removeLocked(call *relayCall) {
	if call.ringer != nil {
		call.ringer.Stop()
	}
	delete(r.calls, call.id)
	if r.byUser[call.caller] == call.id {
		delete(r.byUser, call.caller)
	}
	if r.byUser[call.callee] == call.id {
		delete(r.byUser, call.callee)
	}
}

// forward relays a negotiation event to the other party of the call.
func (r *Relay) forward(from domain.UserID, id domain.CallID, ev domain.Event) error {
	r.mu.Lock()
	call, ok := r.calls[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no such call %s", domain.ErrStaleCall, id)
	}
	ev.CallID = id
	ev.From = from
	r.deliverTo(call.other(from), ev)
	return nil
}

func (r *Relay) unregister(ep *Endpoint) {
	r.mu.Lock()
	if r.endpoints[ep.user] == ep {
		delete(r.endpoints, ep.user)
	}
	id, inCall := r.byUser[ep.user]
	var call *relayCall
	if inCall {
		call = r.calls[id]
		if call != nil {
			r.removeLocked(call)
		}
	}
	r.mu.Unlock()

	if call != nil {
		r.deliverTo(call.other(ep.user), domain.Event{
			Type: domain.EventCallEnded, CallID: id, From: ep.user, Reason: "disconnected",
		})
	}
	ep.closeEvents()
}

// Endpoint is one user's view of the relay. It satisfies the same
// contract as the websocket client.
type Endpoint struct {
	relay *Relay
	user  domain.UserID

	closeOnce sync.Once
	events    chan domain.Event
}

func (e *Endpoint) StartCall(_ context.Context, target domain.UserID, withAudio, withVideo bool) error {
	return e.relay.startCall(e.user, target, withAudio, withVideo)
}

func (e *Endpoint) AcceptCall(_ context.Context, id domain.CallID, _, _ bool) error {
	return e.relay.acceptCall(e.user, id)
}

func (e *Endpoint) DeclineCall(_ context.Context, id domain.CallID) error {
	return e.relay.declineCall(e.user, id)
}

func (e *Endpoint) EndCall(_ context.Context, id domain.CallID) error {
	return e.relay.endCall(e.user, id)
}

func (e *Endpoint) SendOffer(_ context.Context, id domain.CallID, desc domain.SessionDescription) error {
	d := desc
	return e.relay.forward(e.user, id, domain.Event{Type: domain.EventSignalOffer, SDP: &d})
}

func (e *Endpoint) SendAnswer(_ context.Context, id domain.CallID, desc domain.SessionDescription) error {
	d := desc
	return e.relay.forward(e.user, id, domain.Event{Type: domain.EventSignalAnswer, SDP: &d})
}

func (e *Endpoint) SendCandidate(_ context.Context, id domain.CallID, candidate domain.ICECandidate) error {
	c := candidate
	return e.relay.forward(e.user, id, domain.Event{Type: domain.EventIceCandidate, Candidate: &c})
}

func (e *Endpoint) ToggleMedia(_ context.Context, id domain.CallID, media domain.MediaType, enabled bool) error {
	return e.relay.forward(e.user, id, domain.Event{
		Type: domain.EventMediaToggled, Media: media, Enabled: enabled,
	})
}

func (e *Endpoint) Events() <-chan domain.Event { return e.events }

func (e *Endpoint) Close() error {
	e.relay.unregister(e)
	return nil
}

func (e *Endpoint) deliver(ev domain.Event) {
	select {
	case e.events <- ev:
	default:
		e.relay.log.Warn().Str("user", e.user.String()).Str("event", string(ev.Type)).
			Msg("Endpoint event buffer full, dropping")
	}
}

func (e *Endpoint) closeEvents() {
	e.closeOnce.Do(func() { close(e.events) })
}
