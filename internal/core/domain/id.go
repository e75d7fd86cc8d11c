package domain

import (
	"github.com/google/uuid"
)

// UserID identifies a user on the signaling service. Values come from the
// surrounding application's auth layer, so this is not required to be a UUID.
type UserID string

func (id UserID) String() string {
	return string(id)
}

// CallID identifies one attempted or active call. It is assigned by the
// signaling counterpart and immutable once set on a session.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func (id CallID) String() string {
	return string(id)
}

func (id CallID) IsZero() bool {
	return id == ""
}
