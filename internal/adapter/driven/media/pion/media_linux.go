//go:build linux && cgo

package pion

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
)

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// newWebRTCAPI builds the API with the mediadevices codecs registered so
// captured tracks and the peer connection agree on VP8+Opus.
func newWebRTCAPI() (*webrtc.API, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// captureLocalMedia opens camera/microphone via mediadevices. GetUserMedia
// fails as a unit, so a busy microphone is retried without audio and vice
// versa before giving up.
func captureLocalMedia(_ context.Context, audio, video bool) (*localTracks, error) {
	if !audio && !video {
		return nil, domain.ErrDeviceUnavailable
	}

	selector, err := newCodecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: codec setup: %v", domain.ErrMedia, err)
	}

	type attempt struct {
		audio bool
		video bool
		label string
	}
	attempts := []attempt{}
	if audio && video {
		attempts = append(attempts, attempt{true, true, "audio+video"})
	}
	if video {
		attempts = append(attempts, attempt{false, true, "video-only"})
	}
	if audio {
		attempts = append(attempts, attempt{true, false, "audio-only"})
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only. Some cameras expose an MJPEG node that
				// produces malformed frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		lt := &localTracks{
			hasAudio: a.audio,
			hasVideo: a.video,
			stop: func() {
				for _, t := range tracks {
					t.Close()
				}
			},
		}
		for _, t := range tracks {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Err(err).Msg("Local track ended")
				}
			})
			lt.tracks = append(lt.tracks, t)
		}
		log.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("Local media captured")
		return lt, nil
	}

	if errors.Is(lastErr, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, lastErr)
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, lastErr)
}
