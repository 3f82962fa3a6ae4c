package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Track is one local capture track. SetEnabled is the only mutation path;
// it must hit the physical track exactly once per state change or the UI
// and the hardware desynchronize.
type Track interface {
	SetEnabled(enabled bool)
	Enabled() bool
	// Failed reports a hard failure of the underlying capture (ended
	// track, device unplugged).
	Failed() bool
	// Local returns the attachable WebRTC track, nil for sources that
	// produce no transmittable media.
	Local() webrtc.TrackLocal
}

// MediaSource supplies the local capture tracks. Real capture lives with an
// external collaborator; this package ships a synthetic source for the
// headless client and tests.
type MediaSource interface {
	AcquireAudioTrack() (Track, error)
	AcquireVideoTrack() (Track, error)
}

var ErrCapabilityDisabled = errors.New("media capability disabled")

type capability struct {
	track Track
	// reacquired is set after the single allowed reacquisition; a second
	// hard failure disables the capability for the session.
	reacquired bool
	disabled   bool
	enabled    bool
}

// LocalMedia owns the local capture stream. Every outbound peer link
// attaches to the same tracks read-only; toggling the enabled flag here is
// the only mutation, applied exactly once per state change.
type LocalMedia struct {
	source MediaSource

	mu         sync.Mutex
	audio      capability
	video      capability
	handRaised bool
}

// NewLocalMedia acquires both tracks up front. A source that cannot supply
// a track at startup leaves that capability disabled rather than failing
// the whole session.
func NewLocalMedia(source MediaSource) *LocalMedia {
	lm := &LocalMedia{source: source}
	if track, err := source.AcquireAudioTrack(); err == nil {
		lm.audio = capability{track: track, enabled: track.Enabled()}
	} else {
		lm.audio.disabled = true
	}
	if track, err := source.AcquireVideoTrack(); err == nil {
		lm.video = capability{track: track, enabled: track.Enabled()}
	} else {
		lm.video.disabled = true
	}
	return lm
}

// Tracks returns the attachable local tracks for a new peer link.
func (lm *LocalMedia) Tracks() []webrtc.TrackLocal {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var out []webrtc.TrackLocal
	for _, c := range []*capability{&lm.audio, &lm.video} {
		if c.disabled || c.track == nil {
			continue
		}
		if local := c.track.Local(); local != nil {
			out = append(out, local)
		}
	}
	return out
}

// SetMicrophoneMuted flips the audio track. Muted means the track is
// disabled.
func (lm *LocalMedia) SetMicrophoneMuted(muted bool) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.setEnabled(&lm.audio, !muted, lm.source.AcquireAudioTrack)
}

func (lm *LocalMedia) SetCameraEnabled(enabled bool) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.setEnabled(&lm.video, enabled, lm.source.AcquireVideoTrack)
}

// setEnabled applies the desired state to the physical track. A failed
// track gets one reacquisition attempt; a second hard failure marks the
// capability disabled for the rest of the session.
func (lm *LocalMedia) setEnabled(c *capability, enabled bool, acquire func() (Track, error)) error {
	if c.disabled {
		return ErrCapabilityDisabled
	}
	if c.track.Failed() {
		if c.reacquired {
			c.disabled = true
			return ErrCapabilityDisabled
		}
		track, err := acquire()
		if err != nil {
			c.disabled = true
			return fmt.Errorf("reacquire track: %w", err)
		}
		c.reacquired = true
		c.track = track
	}
	if c.enabled == enabled {
		return nil
	}
	c.track.SetEnabled(enabled)
	c.enabled = enabled
	return nil
}

func (lm *LocalMedia) SetHandRaised(raised bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.handRaised = raised
}

// State reports the local flags as broadcast to the room.
func (lm *LocalMedia) State() MemberMediaState {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return MemberMediaState{
		MicrophoneMuted: lm.audio.disabled || !lm.audio.enabled,
		CameraEnabled:   !lm.video.disabled && lm.video.enabled,
		HandRaised:      lm.handRaised,
	}
}
