package rtc

import (
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/ShivKnp/CodeCrew/internal/client"
	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	log := utils.NewNopLogger()
	sig := client.NewSignalClient("ws://unused", "tester", log)
	s := NewSession(sig, webrtc.Configuration{}, log)
	t.Cleanup(s.Close)
	return s
}

func hasLink(links []Link, peerID, context string) bool {
	for _, l := range links {
		if l.PeerID == peerID && l.Context == context {
			return true
		}
	}
	return false
}

func TestLinkPerPeerAndContext(t *testing.T) {
	s := newTestSession(t)

	l1, err := s.link("peer-a", models.ContextWebcam)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	l2, err := s.link("peer-a", models.ContextScreen)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if l1 == l2 || l1.PC == l2.PC {
		t.Fatalf("webcam and screen must be independent peer connections")
	}

	again, err := s.link("peer-a", models.ContextWebcam)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if again != l1 {
		t.Fatalf("repeated link lookup must reuse the existing connection")
	}
	if got := len(s.Links()); got != 2 {
		t.Fatalf("expected 2 links, got %d", got)
	}
}

func TestScreenLeaveKeepsWebcamLink(t *testing.T) {
	s := newTestSession(t)

	if _, err := s.link("peer-a", models.ContextWebcam); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := s.link("peer-a", models.ContextScreen); err != nil {
		t.Fatalf("link: %v", err)
	}

	s.handleLeave("peer-a", models.ContextScreen)

	links := s.Links()
	if hasLink(links, "peer-a", models.ContextScreen) {
		t.Fatalf("screen link must be closed on screen-context leave")
	}
	if !hasLink(links, "peer-a", models.ContextWebcam) {
		t.Fatalf("webcam link must survive a screen-context leave")
	}
}

func TestRoomLeaveClosesAllLinks(t *testing.T) {
	s := newTestSession(t)
	gone := ""
	s.OnPeerGone = func(peerID string) { gone = peerID }

	if _, err := s.link("peer-a", models.ContextWebcam); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := s.link("peer-a", models.ContextScreen); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := s.link("peer-b", models.ContextWebcam); err != nil {
		t.Fatalf("link: %v", err)
	}

	// Leave with no context tears down every exchange with that peer.
	s.handleLeave("peer-a", "")

	links := s.Links()
	if hasLink(links, "peer-a", models.ContextWebcam) || hasLink(links, "peer-a", models.ContextScreen) {
		t.Fatalf("all of peer-a's links must be closed")
	}
	if !hasLink(links, "peer-b", models.ContextWebcam) {
		t.Fatalf("peer-b must be unaffected")
	}
	if gone != "peer-a" {
		t.Fatalf("expected OnPeerGone for peer-a, got %q", gone)
	}
}

func TestStopScreenShareClosesOnlyScreenLinks(t *testing.T) {
	s := newTestSession(t)

	if _, err := s.link("peer-a", models.ContextWebcam); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := s.link("peer-a", models.ContextScreen); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := s.link("peer-b", models.ContextScreen); err != nil {
		t.Fatalf("link: %v", err)
	}

	s.StopScreenShare()

	links := s.Links()
	for _, l := range links {
		if l.Context == models.ContextScreen {
			t.Fatalf("screen link left open: %#v", l)
		}
	}
	if !hasLink(links, "peer-a", models.ContextWebcam) {
		t.Fatalf("webcam exchange must stay up through screen-share teardown")
	}
}
