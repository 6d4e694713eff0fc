package client

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

const dialTimeout = 30 * time.Second

// DocClient subscribes to one shared document over WebSocket. It mirrors
// the store snapshot locally by folding every incoming op into it, and
// reconnects with exponential backoff after transient drops. Reconnection
// is a fresh subscription: no state is resumed.
type DocClient struct {
	url string
	log *utils.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	snapshot models.DocSnapshot

	// OnOp, OnPresence and OnResync must be set before Connect.
	OnOp       func(op models.Operation, source string)
	OnPresence func(peerID string, r *models.CursorRange)
	OnResync   func(snap models.DocSnapshot)

	done chan struct{}
	once sync.Once
}

func NewDocClient(url string, log *utils.Logger) *DocClient {
	return &DocClient{url: url, log: log, done: make(chan struct{})}
}

// Connect dials the document socket and waits for the init frame. An
// error here is fatal for session initialization: the caller should not
// attach an editor.
func (c *DocClient) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.readLoop()
	return nil
}

func (c *DocClient) dial() error {
	operation := func() error {
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			return err
		}
		var frame models.DocFrame
		if err := conn.ReadJSON(&frame); err != nil {
			_ = conn.Close()
			return err
		}
		if frame.Type != models.DocFrameInit || frame.Snapshot == nil {
			_ = conn.Close()
			return errors.New("expected init frame")
		}
		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		c.mu.Lock()
		c.snapshot = *frame.Snapshot
		c.mu.Unlock()
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = dialTimeout
	return backoff.Retry(operation, policy)
}

func (c *DocClient) readLoop() {
	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()

		var frame models.DocFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.log.Warn("document socket dropped, reconnecting", "error", err.Error())
			if err := c.dial(); err != nil {
				c.log.Error("document reconnect failed", "error", err.Error())
				return
			}
			if c.OnResync != nil {
				c.OnResync(c.Snapshot())
			}
			continue
		}
		c.handle(frame)
	}
}

func (c *DocClient) handle(frame models.DocFrame) {
	switch frame.Type {
	case models.DocFrameOp:
		if frame.Op == nil {
			return
		}
		c.fold(*frame.Op)
		if c.OnOp != nil {
			c.OnOp(*frame.Op, frame.Source)
		}
	case models.DocFramePresence:
		if c.OnPresence != nil {
			c.OnPresence(frame.ID, frame.Range)
		}
	case models.DocFrameError:
		c.log.Warn("document server reported error", "error", frame.Error)
	}
}

// fold keeps the cached snapshot consistent with the stream of ops.
// Content ops apply the delete before the insert, matching the server's
// transform order for ops that carry both.
func (c *DocClient) fold(op models.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch op.P.Field {
	case models.FieldContent:
		text := c.snapshot.Content
		if op.RangeOffset < 0 || op.RangeOffset > len(text) {
			return
		}
		if op.SD != "" {
			if op.RangeOffset+len(op.SD) > len(text) {
				return
			}
			text = text[:op.RangeOffset] + text[op.RangeOffset+len(op.SD):]
		}
		if op.SI != "" {
			text = text[:op.RangeOffset] + op.SI + text[op.RangeOffset:]
		}
		c.snapshot.Content = text
		c.snapshot.Version++
	case models.FieldInput:
		if op.IsReplace() {
			c.snapshot.Input = *op.LI
		}
	case models.FieldOutput:
		if op.IsReplace() {
			c.snapshot.Output = *op.LI
		}
	case models.FieldLang:
		if op.IsReplace() {
			c.snapshot.Lang = *op.LI
		}
	}
}

// Snapshot returns the client's current view of the document.
func (c *DocClient) Snapshot() models.DocSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// SubmitOp sends one operation; fire-and-forget, the applied op comes
// back on the event stream with the same source tag.
func (c *DocClient) SubmitOp(op models.Operation, source string) error {
	return c.write(models.DocFrame{Type: models.DocFrameOp, Op: &op, Source: source})
}

// SubmitPresence publishes the local cursor; nil clears it.
func (c *DocClient) SubmitPresence(peerID string, r *models.CursorRange) error {
	return c.write(models.DocFrame{Type: models.DocFramePresence, ID: peerID, Range: r})
}

func (c *DocClient) write(frame models.DocFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("document socket not connected")
	}
	return c.conn.WriteJSON(frame)
}

func (c *DocClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
	})
}
