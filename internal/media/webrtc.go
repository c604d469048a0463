// Package media adapts a pion PeerConnection to the core's Media
// interface. Only session negotiation lives here: what flows over the
// established peer link (tracks, data channels) is the caller's
// business.
package media

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Callbacks surface negotiation byproducts to the owner: locally
// gathered ICE candidates to transmit, and the connectivity indication
// the call machine needs before going active.
type Callbacks struct {
	OnCandidate func(candidate webrtc.ICECandidateInit)
	OnConnected func()
}

// PeerConnection wraps webrtc.PeerConnection as a core.Media.
type PeerConnection struct {
	pc *webrtc.PeerConnection
}

// NewPeerConnection builds a PeerConnection with the given ICE servers.
// An empty server list yields host candidates only, enough for
// same-machine and same-LAN testing.
func NewPeerConnection(iceServers []webrtc.ICEServer, cb Callbacks) (*PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnCandidate == nil {
			return
		}
		cb.OnCandidate(c.ToJSON())
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if cb.OnConnected == nil {
			return
		}
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			cb.OnConnected()
		}
	})

	// Negotiation needs at least one m-line even before any media is
	// attached; a data channel keeps headless sessions negotiable.
	if _, err := pc.CreateDataChannel("wirechat", nil); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	return &PeerConnection{pc: pc}, nil
}

func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (p *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *PeerConnection) Close() error {
	return p.pc.Close()
}
