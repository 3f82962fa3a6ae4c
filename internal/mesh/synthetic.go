package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SyntheticSource supplies silent/black tracks so the headless client can
// hold a seat in the mesh without capture hardware.
type SyntheticSource struct{}

func (SyntheticSource) AcquireAudioTrack() (Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "nexus-synthetic",
	)
	if err != nil {
		return nil, err
	}
	return newSyntheticTrack(local), nil
}

func (SyntheticSource) AcquireVideoTrack() (Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "nexus-synthetic",
	)
	if err != nil {
		return nil, err
	}
	return newSyntheticTrack(local), nil
}

type syntheticTrack struct {
	local *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
}

func newSyntheticTrack(local *webrtc.TrackLocalStaticSample) *syntheticTrack {
	return &syntheticTrack{local: local, enabled: true}
}

func (t *syntheticTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *syntheticTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *syntheticTrack) Failed() bool { return false }

func (t *syntheticTrack) Local() webrtc.TrackLocal { return t.local }

// WriteSample is exposed for soak runs that want real packets flowing; the
// engine itself never calls it.
func (t *syntheticTrack) WriteSample(sample media.Sample) error {
	t.mu.Lock()
	enabled := t.enabled
	t.mu.Unlock()
	if !enabled {
		return nil
	}
	return t.local.WriteSample(sample)
}
