package port

import "context"

// LocalTracks is an opaque view of the acquired capture devices.
type LocalTracks interface {
	HasAudio() bool
	HasVideo() bool
}

// MediaEngine acquires and controls local capture. Acquire is idempotent
// within a session: a second call returns the already-acquired tracks
// without touching device permissions again.
type MediaEngine interface {
	Acquire(ctx context.Context, audio, video bool) (LocalTracks, error)
	Release()
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
}
