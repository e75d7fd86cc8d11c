//go:build !(linux && cgo)

package pion

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

func newWebRTCAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)), nil
}

// No capture drivers wired on this platform; calls proceed receive-only.
func captureLocalMedia(_ context.Context, _, _ bool) (*localTracks, error) {
	return nil, domain.ErrDeviceUnavailable
}
