package port

import (
	"context"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

// IceServerProvider fetches short-lived ICE server descriptors. An empty
// result is valid: the peer connection falls back to host candidates.
type IceServerProvider interface {
	Fetch(ctx context.Context) ([]domain.IceServer, error)
}
