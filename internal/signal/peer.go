package signal

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ShivKnp/CodeCrew/internal/models"
)

const sendQueueSize = 64

// Peer wraps one signaling connection. Outbound envelopes go through a
// buffered queue drained by a single writer goroutine, so a slow peer
// drops its own traffic instead of stalling the room.
type Peer struct {
	conn *websocket.Conn

	mu   sync.Mutex
	hook func(models.SignalEnvelope)

	queue chan models.SignalEnvelope
	once  sync.Once
	done  chan struct{}
}

func NewPeer(conn *websocket.Conn) *Peer {
	p := &Peer{
		conn:  conn,
		queue: make(chan models.SignalEnvelope, sendQueueSize),
		done:  make(chan struct{}),
	}
	if conn != nil {
		go p.writePump()
	}
	return p
}

// SetSendHook replaces the WebSocket writer (used in tests).
func (p *Peer) SetSendHook(fn func(models.SignalEnvelope)) {
	p.mu.Lock()
	p.hook = fn
	p.mu.Unlock()
}

// Send queues an envelope for delivery. It never blocks; if the peer's
// queue is full the envelope is dropped.
func (p *Peer) Send(env models.SignalEnvelope) {
	p.mu.Lock()
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(env)
		return
	}
	if p.conn == nil {
		return
	}
	select {
	case p.queue <- env:
	case <-p.done:
	default:
	}
}

func (p *Peer) writePump() {
	for {
		select {
		case env := <-p.queue:
			if err := p.conn.WriteJSON(env); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// Close stops the writer and closes the underlying connection.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		if p.conn != nil {
			_ = p.conn.Close()
		}
	})
}
