package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Services wrap these with fmt.Errorf("%w: ...") so
// callers branch with errors.Is instead of string matching.
var (
	ErrSignaling   = errors.New("signaling error")
	ErrMedia       = errors.New("media error")
	ErrNegotiation = errors.New("negotiation error")
	ErrProtocol    = errors.New("protocol error")
)

// Specific conditions, each carrying its category.
var (
	ErrPermissionDenied  = fmt.Errorf("%w: permission denied", ErrMedia)
	ErrDeviceUnavailable = fmt.Errorf("%w: device unavailable", ErrMedia)
	ErrStaleCall         = fmt.Errorf("%w: stale call id", ErrProtocol)
	ErrCreationInFlight  = fmt.Errorf("%w: peer connection creation timed out", ErrNegotiation)
	ErrBusy              = fmt.Errorf("%w: already in a call", ErrProtocol)
)
