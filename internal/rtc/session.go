package rtc

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/ShivKnp/CodeCrew/internal/client"
	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

type linkKey struct {
	peerID  string
	context string
}

// Link is one negotiated peer connection. A peer holds up to two links
// per remote participant, one for the webcam exchange and one for
// screen-share, negotiated independently under the same peer id.
type Link struct {
	PeerID  string
	Context string
	PC      *webrtc.PeerConnection
}

// Session drives media negotiation over a signaling connection. The
// newcomer always initiates: on every join event the session offers its
// webcam context (and screen context while sharing) to the announced
// peer. Tearing down screen-share closes only the screen links; webcam
// exchanges stay up.
type Session struct {
	log *utils.Logger
	sig *client.SignalClient
	cfg webrtc.Configuration

	mu     sync.Mutex
	links  map[linkKey]*Link
	webcam []webrtc.TrackLocal
	screen []webrtc.TrackLocal

	// OnTrack fires for every inbound remote track.
	OnTrack func(peerID, context string, track *webrtc.TrackRemote)
	// OnPeerGone fires after all of a peer's links are closed.
	OnPeerGone func(peerID string)
}

func NewSession(sig *client.SignalClient, cfg webrtc.Configuration, log *utils.Logger) *Session {
	s := &Session{
		log:   log,
		sig:   sig,
		cfg:   cfg,
		links: make(map[linkKey]*Link),
	}
	sig.OnJoin = s.handleJoin
	sig.OnOffer = s.handleOffer
	sig.OnAnswer = s.handleAnswer
	sig.OnCandidate = s.handleCandidate
	sig.OnLeave = s.handleLeave
	return s
}

// SetWebcamTracks installs the local webcam/mic tracks used for every
// webcam-context link. With no tracks the session still negotiates
// receive-only, so a participant without devices can watch the others.
func (s *Session) SetWebcamTracks(tracks ...webrtc.TrackLocal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webcam = tracks
}

// StartScreenShare opens a screen-context link to every connected peer.
func (s *Session) StartScreenShare(tracks ...webrtc.TrackLocal) {
	s.mu.Lock()
	s.screen = tracks
	peers := make([]string, 0, len(s.links))
	seen := map[string]bool{}
	for key := range s.links {
		if key.context == models.ContextWebcam && !seen[key.peerID] {
			seen[key.peerID] = true
			peers = append(peers, key.peerID)
		}
	}
	s.mu.Unlock()

	for _, peerID := range peers {
		if err := s.offer(peerID, models.ContextScreen); err != nil {
			s.log.Error("screen offer failed", "peer", peerID, "error", err.Error())
		}
	}
}

// StopScreenShare tears down every screen link and announces the leave
// on the screen context only.
func (s *Session) StopScreenShare() {
	s.mu.Lock()
	s.screen = nil
	var closing []*Link
	for key, link := range s.links {
		if key.context == models.ContextScreen {
			closing = append(closing, link)
			delete(s.links, key)
		}
	}
	s.mu.Unlock()

	for _, link := range closing {
		_ = link.PC.Close()
	}
	if err := s.sig.SendLeave(models.ContextScreen); err != nil {
		s.log.Warn("screen leave failed", "error", err.Error())
	}
}

// SetMediaState broadcasts the local mic/camera flags.
func (s *Session) SetMediaState(mic, camera bool) {
	if err := s.sig.SendMediaState(models.MediaState{Mic: mic, Camera: camera}); err != nil {
		s.log.Warn("media-update failed", "error", err.Error())
	}
}

// Links returns a snapshot of the open links.
func (s *Session) Links() []Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, *l)
	}
	return out
}

func (s *Session) handleJoin(from, name string) {
	if err := s.offer(from, models.ContextWebcam); err != nil {
		s.log.Error("webcam offer failed", "peer", from, "error", err.Error())
		return
	}
	s.mu.Lock()
	sharing := len(s.screen) > 0
	s.mu.Unlock()
	if sharing {
		if err := s.offer(from, models.ContextScreen); err != nil {
			s.log.Error("screen offer failed", "peer", from, "error", err.Error())
		}
	}
}

func (s *Session) offer(peerID, context string) error {
	link, err := s.link(peerID, context)
	if err != nil {
		return err
	}
	offer, err := link.PC.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := link.PC.SetLocalDescription(offer); err != nil {
		return err
	}
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return s.sig.SendOffer(peerID, data, context)
}

func (s *Session) handleOffer(from, name string, data json.RawMessage, context string) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		s.log.Warn("malformed offer payload", "peer", from, "error", err.Error())
		return
	}
	link, err := s.link(from, context)
	if err != nil {
		s.log.Error("offer link setup failed", "peer", from, "error", err.Error())
		return
	}
	if err := link.PC.SetRemoteDescription(desc); err != nil {
		s.log.Error("set remote offer failed", "peer", from, "error", err.Error())
		return
	}
	answer, err := link.PC.CreateAnswer(nil)
	if err != nil {
		s.log.Error("create answer failed", "peer", from, "error", err.Error())
		return
	}
	if err := link.PC.SetLocalDescription(answer); err != nil {
		s.log.Error("set local answer failed", "peer", from, "error", err.Error())
		return
	}
	payload, err := json.Marshal(answer)
	if err != nil {
		return
	}
	if err := s.sig.SendAnswer(from, payload, context); err != nil {
		s.log.Error("send answer failed", "peer", from, "error", err.Error())
	}
}

func (s *Session) handleAnswer(from string, data json.RawMessage, context string) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		s.log.Warn("malformed answer payload", "peer", from, "error", err.Error())
		return
	}
	s.mu.Lock()
	link := s.links[linkKey{from, context}]
	s.mu.Unlock()
	if link == nil {
		s.log.Warn("answer for unknown link", "peer", from, "context", context)
		return
	}
	if err := link.PC.SetRemoteDescription(desc); err != nil {
		s.log.Error("set remote answer failed", "peer", from, "error", err.Error())
	}
}

func (s *Session) handleCandidate(from string, data json.RawMessage, context string) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &cand); err != nil {
		s.log.Warn("malformed candidate payload", "peer", from, "error", err.Error())
		return
	}
	s.mu.Lock()
	link := s.links[linkKey{from, context}]
	s.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.PC.AddICECandidate(cand); err != nil {
		s.log.Warn("add candidate failed", "peer", from, "error", err.Error())
	}
}

func (s *Session) handleLeave(from, context string) {
	s.mu.Lock()
	var closing []*Link
	for key, link := range s.links {
		if key.peerID != from {
			continue
		}
		if context == "" || key.context == context {
			closing = append(closing, link)
			delete(s.links, key)
		}
	}
	gone := true
	for key := range s.links {
		if key.peerID == from {
			gone = false
			break
		}
	}
	s.mu.Unlock()

	for _, link := range closing {
		_ = link.PC.Close()
	}
	if gone && len(closing) > 0 && s.OnPeerGone != nil {
		s.OnPeerGone(from)
	}
}

// link returns the existing peer connection for (peer, context) or
// builds one: local tracks attached when available, otherwise a
// receive-only transceiver per kind, with trickle ICE forwarded over
// the signaling channel.
func (s *Session) link(peerID, context string) (*Link, error) {
	key := linkKey{peerID, context}
	s.mu.Lock()
	if existing, ok := s.links[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	var local []webrtc.TrackLocal
	if context == models.ContextScreen {
		local = s.screen
	} else {
		local = s.webcam
	}
	s.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(s.cfg)
	if err != nil {
		return nil, err
	}

	if len(local) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	} else {
		for _, track := range local {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := s.sig.SendCandidate(peerID, data, context); err != nil {
			s.log.Warn("send candidate failed", "peer", peerID, "error", err.Error())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if s.OnTrack != nil {
			s.OnTrack(peerID, context, track)
		}
	})

	link := &Link{PeerID: peerID, Context: context, PC: pc}
	s.mu.Lock()
	s.links[key] = link
	s.mu.Unlock()
	return link, nil
}

// Close tears down every link without announcing per-context leaves;
// the hub broadcasts the room-level leave when the socket drops.
func (s *Session) Close() {
	s.mu.Lock()
	links := make([]*Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.links = make(map[linkKey]*Link)
	s.mu.Unlock()
	for _, l := range links {
		_ = l.PC.Close()
	}
}
