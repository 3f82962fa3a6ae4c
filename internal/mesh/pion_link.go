package mesh

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// signalPayload is the negotiation payload carried opaquely through the
// relay: an SDP description or one trickle candidate.
type signalPayload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

const (
	signalTypeOffer     = "offer"
	signalTypeAnswer    = "answer"
	signalTypeCandidate = "candidate"
)

// pionLink is the production PeerLink over a pion PeerConnection with a
// "meet" data channel and the local media tracks attached.
type pionLink struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onSignal    func(json.RawMessage)
	onConnected func()
	connected   bool

	// Candidates gathered before the remote description is set cannot be
	// added yet; they are replayed after it lands.
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
}

// NewPionLink builds a link from an API produced by rtc.NewAPI. tracks are
// the local capture tracks; nil is valid for a receive-only seat.
func NewPionLink(api *webrtc.API, cfg webrtc.Configuration, tracks []webrtc.TrackLocal) (PeerLink, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}

	l := &pionLink{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		l.emit(signalPayload{Type: signalTypeCandidate, Candidate: &init})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state != webrtc.PeerConnectionStateConnected {
			return
		}
		l.mu.Lock()
		fire := !l.connected && l.onConnected != nil
		l.connected = true
		fn := l.onConnected
		l.mu.Unlock()
		if fire {
			fn()
		}
	})

	return l, nil
}

func (l *pionLink) OnSignal(fn func(json.RawMessage)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSignal = fn
}

func (l *pionLink) OnConnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnected = fn
}

func (l *pionLink) emit(p signalPayload) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	l.mu.Lock()
	fn := l.onSignal
	l.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (l *pionLink) StartOffer() error {
	if _, err := l.pc.CreateDataChannel("meet", nil); err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	l.emit(signalPayload{Type: signalTypeOffer, SDP: offer.SDP})
	return nil
}

func (l *pionLink) Signal(payload json.RawMessage) error {
	var p signalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}

	switch p.Type {
	case signalTypeOffer:
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer, SDP: p.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		l.flushCandidates()
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		l.emit(signalPayload{Type: signalTypeAnswer, SDP: answer.SDP})
		return nil

	case signalTypeAnswer:
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer, SDP: p.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		l.flushCandidates()
		return nil

	case signalTypeCandidate:
		if p.Candidate == nil {
			return fmt.Errorf("candidate signal without candidate")
		}
		l.mu.Lock()
		if !l.remoteSet {
			l.candidates = append(l.candidates, *p.Candidate)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		if err := l.pc.AddICECandidate(*p.Candidate); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown signal type %q", p.Type)
	}
}

func (l *pionLink) flushCandidates() {
	l.mu.Lock()
	l.remoteSet = true
	queued := l.candidates
	l.candidates = nil
	l.mu.Unlock()
	for _, c := range queued {
		_ = l.pc.AddICECandidate(c)
	}
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}
