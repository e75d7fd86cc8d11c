// Package ice fetches ICE server descriptors from the credential endpoint
// exposed by the backend. Descriptors are short-lived TURN credentials, so
// the provider caches only in memory, per process.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

type Provider struct {
	endpoint string
	client   *http.Client

	mu     sync.RWMutex
	cached []domain.IceServer
}

func NewProvider(endpoint string) *Provider {
	return &Provider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// serverDTO tolerates both `"urls": "stun:..."` and `"urls": ["turn:..."]`,
// the two shapes TURN credential APIs commonly return.
type serverDTO struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username"`
	Credential string  `json:"credential"`
}

type urlList []string

func (u *urlList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*u = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

// Fetch returns ICE servers from the endpoint, caching the last success.
// On failure it returns the cached copy if one exists, otherwise an empty
// list together with the error; the peer connection may still proceed on
// host candidates. No automatic retry.
func (p *Provider) Fetch(ctx context.Context) ([]domain.IceServer, error) {
	if p.endpoint == "" {
		// No endpoint configured: host candidates only.
		return nil, nil
	}

	servers, err := p.fetch(ctx)
	if err != nil {
		p.mu.RLock()
		cached := p.cached
		p.mu.RUnlock()
		if cached != nil {
			log.Warn().Err(err).Msg("ICE fetch failed, using cached servers")
			return cached, nil
		}
		log.Warn().Err(err).Msg("ICE fetch failed, no servers available")
		return nil, err
	}

	p.mu.Lock()
	p.cached = servers
	p.mu.Unlock()
	return servers, nil
}

func (p *Provider) fetch(ctx context.Context) ([]domain.IceServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrSignaling, err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch ice servers: %v", domain.ErrSignaling, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ice endpoint returned %d", domain.ErrSignaling, res.StatusCode)
	}

	var body struct {
		IceServers []serverDTO `json:"iceServers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode ice servers: %v", domain.ErrSignaling, err)
	}

	servers := make([]domain.IceServer, 0, len(body.IceServers))
	for _, s := range body.IceServers {
		servers = append(servers, domain.IceServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	log.Debug().Int("count", len(servers)).Msg("Fetched ICE servers")
	return servers, nil
}
