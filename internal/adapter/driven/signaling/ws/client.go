// Package ws implements the signaling gateway over a persistent websocket.
// The connection is managed: the client dials, announces identity, and on
// any transport drop reconnects with capped backoff and re-identifies.
// The signaling service is stateful per connection, so skipping the
// re-announcement silently breaks call routing.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

const (
	writeWait         = 10 * time.Second
	initialBackoff    = 500 * time.Millisecond
	maxBackoff        = 15 * time.Second
	sendQueueSize     = 64
	eventQueueSize    = 32
	handshakeDeadline = 10 * time.Second
)

// Client implements port.SignalingGateway.
type Client struct {
	url    string
	userID domain.UserID
	log    zerolog.Logger

	send   chan frame
	events chan domain.Event

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, userID domain.UserID) *Client {
	c := &Client{
		url:    url,
		userID: userID,
		log:    log.With().Str("user_id", userID.String()).Logger(),
		send:   make(chan frame, sendQueueSize),
		events: make(chan domain.Event, eventQueueSize),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// Close stops the reconnect loop and closes the event stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}

// run owns the connection lifecycle: dial, identify, serve, backoff, repeat.
func (c *Client) run() {
	defer close(c.events)

	backoff := initialBackoff
	for {
		select {
		case <-c.done:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: handshakeDeadline}
		conn, _, err := dialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("Signaling dial failed")
			c.emit(domain.Event{
				Type: domain.EventConnectionError,
				Err:  fmt.Errorf("%w: dial: %v", domain.ErrSignaling, err),
			})
			select {
			case <-c.done:
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		// Identity goes out before anything queued, on every connect.
		// Identify is idempotent on the service side.
		if err := c.identify(conn); err != nil {
			c.log.Error().Err(err).Msg("Identify failed")
			conn.Close()
			continue
		}
		c.log.Info().Msg("Signaling connected and identified")

		c.serve(conn)

		select {
		case <-c.done:
			return
		default:
		}
		c.log.Warn().Msg("Signaling connection lost, reconnecting")
		c.emit(domain.Event{
			Type: domain.EventConnectionError,
			Err:  fmt.Errorf("%w: connection lost", domain.ErrSignaling),
		})
	}
}

func (c *Client) identify(conn *websocket.Conn) error {
	data, err := json.Marshal(identityDTO{UserID: c.userID.String()})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame{Event: "identity", Data: data})
}

// serve runs the write pump in a goroutine and reads inbound frames until
// the connection fails. The write pump must not run before identify has
// been written, so it starts here.
func (c *Client) serve(conn *websocket.Conn) {
	connDone := make(chan struct{})
	defer close(connDone)

	go func() {
		for {
			select {
			case <-connDone:
				return
			case <-c.done:
				return
			case f := <-c.send:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(f); err != nil {
					c.log.Error().Err(err).Str("event", f.Event).Msg("Signaling write failed")
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			conn.Close()
			return
		}

		ev, err := decodeEvent(f)
		if err != nil {
			// Malformed frames are a peer problem, not ours. Drop and log.
			c.log.Warn().Err(err).Str("event", f.Event).Msg("Dropping malformed signaling frame")
			continue
		}
		c.emit(ev)
	}
}

func (c *Client) emit(ev domain.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// enqueue queues one outbound frame. Fire-and-forget: a full queue or a
// cancelled context returns an error, but delivery is never confirmed.
func (c *Client) enqueue(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", domain.ErrSignaling, event, err)
	}
	select {
	case c.send <- frame{Event: event, Data: data}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: enqueue %s: %v", domain.ErrSignaling, event, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%w: client closed", domain.ErrSignaling)
	}
}

func (c *Client) StartCall(ctx context.Context, target domain.UserID, withAudio, withVideo bool) error {
	return c.enqueue(ctx, "startCall", startCallDTO{
		TargetUserID: target.String(),
		WithAudio:    withAudio,
		WithVideo:    withVideo,
	})
}

func (c *Client) AcceptCall(ctx context.Context, callID domain.CallID, withAudio, withVideo bool) error {
	return c.enqueue(ctx, "acceptCall", acceptCallDTO{
		CallID:    callID.String(),
		WithAudio: withAudio,
		WithVideo: withVideo,
	})
}

func (c *Client) DeclineCall(ctx context.Context, callID domain.CallID) error {
	return c.enqueue(ctx, "declineCall", callRefDTO{CallID: callID.String()})
}

func (c *Client) EndCall(ctx context.Context, callID domain.CallID) error {
	return c.enqueue(ctx, "endCall", callRefDTO{CallID: callID.String()})
}

func (c *Client) SendOffer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription) error {
	return c.enqueue(ctx, "signalOffer", descriptionDTO{CallID: callID.String(), Offer: &desc})
}

func (c *Client) SendAnswer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription) error {
	return c.enqueue(ctx, "signalAnswer", descriptionDTO{CallID: callID.String(), Answer: &desc})
}

func (c *Client) SendCandidate(ctx context.Context, callID domain.CallID, candidate domain.ICECandidate) error {
	return c.enqueue(ctx, "iceCandidate", candidateDTO{CallID: callID.String(), Candidate: candidate})
}

func (c *Client) ToggleMedia(ctx context.Context, callID domain.CallID, media domain.MediaType, enabled bool) error {
	return c.enqueue(ctx, "toggleMedia", toggleMediaDTO{
		CallID:    callID.String(),
		MediaType: string(media),
		State:     enabled,
	})
}
