package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ShivKnp/CodeCrew/internal/docstore"
	"github.com/ShivKnp/CodeCrew/internal/exec"
	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/signal"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

type Handlers struct {
	log      *utils.Logger
	registry *signal.Registry
	store    *docstore.Store
	runner   *exec.Runner
}

func NewHandlers(log *utils.Logger, registry *signal.Registry, store *docstore.Store) *Handlers {
	return &Handlers{
		log:      log,
		registry: registry,
		store:    store,
		runner:   exec.NewRunner(),
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// CreateSession provisions the session document with empty defaults.
// Creation is idempotent: posting an existing id succeeds and reports
// created=false.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	_, created := h.store.EnsureDoc(req.ID)
	writeJSON(w, models.CreateSessionResponse{ID: req.ID, Created: created})
}

func (h *Handlers) GetWebRTCConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, utils.GetWebRTCConfig())
}

// RoomStatus serves the live roster of a signaling room.
func (h *Handlers) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	status, err := h.registry.Status(roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

// RunCode executes one submission in a sandbox, feeding the request's
// input field as stdin.
func (h *Handlers) RunCode(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limits := exec.SandboxLimits{
		WallTime: 10 * time.Second,
		MemoryB:  512 * 1024 * 1024,
		NanoCPUs: 1_000_000_000,
	}
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	out, err := h.runner.RunOnce(ctx, req.Language, req.Code, req.Stdin, limits)
	if err != nil {
		h.log.Error("sandbox run failed", "language", req.Language, "error", err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, models.RunResult{
		Stdout: out.Stdout, Stderr: out.Stderr, Exit: out.Exit, TimedOut: out.TimedOut,
	})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// SignalWS is the room-scoped signaling socket. The hub assigns the peer
// an id immediately, relays envelopes until the socket drops, then
// notifies the room of the departure.
func (h *Handlers) SignalWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	peer := signal.NewPeer(conn)
	room, _ := h.registry.Connect(roomID, peer)
	defer h.registry.Disconnect(room, peer)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.registry.Dispatch(room, peer, raw)
	}
}

// DocWS is the shared-document socket: an init frame with the full
// snapshot, then op and presence frames both ways. Subscribing delivers
// the init frame through the same ordered stream as subsequent ops, so
// no op can fall between snapshot and subscription. Presence published
// on this socket is cleared when it disconnects.
func (h *Handlers) DocWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	doc, _ := h.store.EnsureDoc(sessionID)
	sub := newWSSubscriber(conn)
	doc.Subscribe(sub)

	owned := make(map[string]struct{})
	defer func() {
		doc.Unsubscribe(sub)
		for peerID := range owned {
			doc.SubmitPresence(peerID, nil)
		}
		sub.close()
	}()

	for {
		var frame models.DocFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case models.DocFrameOp:
			if frame.Op == nil {
				continue
			}
			if err := doc.SubmitOp(*frame.Op, frame.Source); err != nil {
				h.log.Warn("rejected document op", "session", sessionID, "error", err.Error())
				sub.send(models.DocFrame{Type: models.DocFrameError, Error: err.Error()})
			}
		case models.DocFramePresence:
			if frame.ID == "" {
				continue
			}
			if frame.Range == nil {
				delete(owned, frame.ID)
			} else {
				owned[frame.ID] = struct{}{}
			}
			doc.SubmitPresence(frame.ID, frame.Range)
		}
	}
}

const docSendQueueSize = 256

// wsSubscriber relays document events onto one WebSocket. Events are
// queued and drained by a single writer goroutine, so the document's
// locked fan-out never blocks on network I/O. A socket that falls a full
// queue behind is closed; the client reconnects for a fresh snapshot.
type wsSubscriber struct {
	conn  *websocket.Conn
	queue chan models.DocFrame
	once  sync.Once
	done  chan struct{}
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	s := &wsSubscriber{
		conn:  conn,
		queue: make(chan models.DocFrame, docSendQueueSize),
		done:  make(chan struct{}),
	}
	go s.writePump()
	return s
}

func (s *wsSubscriber) writePump() {
	for {
		select {
		case frame := <-s.queue:
			if err := s.conn.WriteJSON(frame); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscriber) send(frame models.DocFrame) {
	select {
	case s.queue <- frame:
	case <-s.done:
	default:
		s.close()
	}
}

func (s *wsSubscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSubscriber) OnInit(snap models.DocSnapshot) {
	s.send(models.DocFrame{Type: models.DocFrameInit, Snapshot: &snap})
}

func (s *wsSubscriber) OnOp(op models.Operation, source string) {
	s.send(models.DocFrame{Type: models.DocFrameOp, Op: &op, Source: source})
}

func (s *wsSubscriber) OnPresence(peerID string, r *models.CursorRange) {
	s.send(models.DocFrame{Type: models.DocFramePresence, ID: peerID, Range: r})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
