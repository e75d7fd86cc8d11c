package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

// frame is the envelope every signaling message travels in.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound payloads. Field names follow the signaling service contract.

type identityDTO struct {
	UserID string `json:"user_id"`
}

type startCallDTO struct {
	TargetUserID string `json:"target_user_id"`
	WithAudio    bool   `json:"with_audio"`
	WithVideo    bool   `json:"with_video"`
}

type acceptCallDTO struct {
	CallID    string `json:"call_id"`
	WithAudio bool   `json:"with_audio"`
	WithVideo bool   `json:"with_video"`
}

type callRefDTO struct {
	CallID string `json:"call_id"`
}

type descriptionDTO struct {
	CallID string                     `json:"call_id"`
	Offer  *domain.SessionDescription `json:"offer,omitempty"`
	Answer *domain.SessionDescription `json:"answer,omitempty"`
}

type candidateDTO struct {
	CallID    string              `json:"call_id"`
	Candidate domain.ICECandidate `json:"candidate"`
}

type toggleMediaDTO struct {
	CallID    string `json:"call_id"`
	MediaType string `json:"media_type"`
	State     bool   `json:"state"`
}

// Inbound payloads.

type inboundCallDTO struct {
	CallID       string `json:"call_id"`
	CallerID     string `json:"caller_id"`
	CalleeID     string `json:"callee_id"`
	TargetUserID string `json:"target_user_id"`
	WithAudio    bool   `json:"with_audio"`
	WithVideo    bool   `json:"with_video"`
	Reason       string `json:"reason"`
}

type errorDTO struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// decodeEvent maps one inbound frame onto a domain event. Unknown event
// names yield an error; the caller logs and drops the frame.
func decodeEvent(f frame) (domain.Event, error) {
	switch domain.EventType(f.Event) {
	case domain.EventIdentityConfirmed:
		return domain.Event{Type: domain.EventIdentityConfirmed}, nil

	case domain.EventIncomingCall:
		var d inboundCallDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:      domain.EventIncomingCall,
			CallID:    domain.CallID(d.CallID),
			From:      domain.UserID(d.CallerID),
			WithAudio: d.WithAudio,
			WithVideo: d.WithVideo,
		}, nil

	case domain.EventCallStarted:
		var d inboundCallDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:   domain.EventCallStarted,
			CallID: domain.CallID(d.CallID),
			From:   domain.UserID(d.TargetUserID),
		}, nil

	case domain.EventCallAccepted:
		var d inboundCallDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:   domain.EventCallAccepted,
			CallID: domain.CallID(d.CallID),
			From:   domain.UserID(d.CalleeID),
		}, nil

	case domain.EventCallDeclined, domain.EventCallEnded, domain.EventCallTimeout:
		var d inboundCallDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:   domain.EventType(f.Event),
			CallID: domain.CallID(d.CallID),
			Reason: d.Reason,
		}, nil

	case domain.EventSignalOffer, domain.EventSignalAnswer:
		var d descriptionDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		desc := d.Offer
		if desc == nil {
			desc = d.Answer
		}
		if desc == nil {
			return domain.Event{}, errors.New("description payload missing offer/answer")
		}
		return domain.Event{
			Type:   domain.EventType(f.Event),
			CallID: domain.CallID(d.CallID),
			SDP:    desc,
		}, nil

	case domain.EventIceCandidate:
		var d candidateDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		c := d.Candidate
		return domain.Event{
			Type:      domain.EventIceCandidate,
			CallID:    domain.CallID(d.CallID),
			Candidate: &c,
		}, nil

	case domain.EventMediaToggled:
		var d toggleMediaDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:    domain.EventMediaToggled,
			CallID:  domain.CallID(d.CallID),
			Media:   domain.MediaType(d.MediaType),
			Enabled: d.State,
		}, nil

	case domain.EventConnectionError:
		var d errorDTO
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:   domain.EventConnectionError,
			Reason: d.Code,
			Err:    fmt.Errorf("%w: %s", domain.ErrSignaling, d.Message),
		}, nil
	}

	return domain.Event{}, fmt.Errorf("unknown event %q", f.Event)
}
