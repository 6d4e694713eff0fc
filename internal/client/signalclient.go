package client

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

// SignalClient is one participant's connection to the session signaling
// hub. After a transient drop it reconnects and rejoins; the hub assigns
// a brand-new peer id, so handlers must treat a reconnect as a fresh
// participant (the hub keeps no state across connections).
type SignalClient struct {
	url  string
	name string
	log  *utils.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu     sync.Mutex
	peerID string

	// Handlers must be set before Connect.
	OnAssignID    func(id string)
	OnJoin        func(from, name string)
	OnOffer       func(from, name string, data json.RawMessage, context string)
	OnAnswer      func(from string, data json.RawMessage, context string)
	OnCandidate   func(from string, data json.RawMessage, context string)
	OnLeave       func(from, context string)
	OnMediaUpdate func(from string, state models.MediaState)

	done chan struct{}
	once sync.Once
}

func NewSignalClient(url, name string, log *utils.Logger) *SignalClient {
	return &SignalClient{url: url, name: name, log: log, done: make(chan struct{})}
}

// Connect dials the hub, announces the display name and starts the event
// loop.
func (c *SignalClient) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.readLoop()
	return nil
}

func (c *SignalClient) dial() error {
	operation := func() error {
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			return err
		}
		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		return conn.WriteJSON(models.SignalEnvelope{Type: models.SignalJoin, Name: c.name})
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = dialTimeout
	return backoff.Retry(operation, policy)
}

func (c *SignalClient) readLoop() {
	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()

		var env models.SignalEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.log.Warn("signaling socket dropped, reconnecting", "error", err.Error())
			if err := c.dial(); err != nil {
				c.log.Error("signaling reconnect failed", "error", err.Error())
				return
			}
			continue
		}
		c.handle(env)
	}
}

func (c *SignalClient) handle(env models.SignalEnvelope) {
	switch env.Type {
	case models.SignalAssignID:
		c.mu.Lock()
		c.peerID = env.ID
		c.mu.Unlock()
		if c.OnAssignID != nil {
			c.OnAssignID(env.ID)
		}
	case models.SignalJoin:
		if c.OnJoin != nil {
			c.OnJoin(env.From, env.Name)
		}
	case models.SignalOffer:
		if c.OnOffer != nil {
			c.OnOffer(env.From, env.Name, env.Data, env.Context)
		}
	case models.SignalAnswer:
		if c.OnAnswer != nil {
			c.OnAnswer(env.From, env.Data, env.Context)
		}
	case models.SignalCandidate:
		if c.OnCandidate != nil {
			c.OnCandidate(env.From, env.Data, env.Context)
		}
	case models.SignalLeave:
		if c.OnLeave != nil {
			c.OnLeave(env.From, env.Context)
		}
	case models.SignalMediaUpdate:
		var state models.MediaState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			c.log.Warn("malformed media-update payload", "error", err.Error())
			return
		}
		if c.OnMediaUpdate != nil {
			c.OnMediaUpdate(env.From, state)
		}
	}
}

// PeerID returns the hub-assigned id, empty until assign-id arrives.
func (c *SignalClient) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Send writes one envelope to the hub.
func (c *SignalClient) Send(env models.SignalEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("signaling socket not connected")
	}
	return c.conn.WriteJSON(env)
}

// SendOffer sends an SDP offer for one media context to a single peer.
func (c *SignalClient) SendOffer(to string, data json.RawMessage, context string) error {
	return c.Send(models.SignalEnvelope{Type: models.SignalOffer, To: to, Data: data, Context: context})
}

func (c *SignalClient) SendAnswer(to string, data json.RawMessage, context string) error {
	return c.Send(models.SignalEnvelope{Type: models.SignalAnswer, To: to, Data: data, Context: context})
}

func (c *SignalClient) SendCandidate(to string, data json.RawMessage, context string) error {
	return c.Send(models.SignalEnvelope{Type: models.SignalCandidate, To: to, Data: data, Context: context})
}

// SendMediaState broadcasts the local mic/camera flags.
func (c *SignalClient) SendMediaState(state models.MediaState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.Send(models.SignalEnvelope{Type: models.SignalMediaUpdate, Data: data})
}

// SendLeave announces leaving one media context (screen-share teardown
// sends this with the screen context while the webcam exchange stays up).
func (c *SignalClient) SendLeave(context string) error {
	return c.Send(models.SignalEnvelope{Type: models.SignalLeave, Context: context})
}

func (c *SignalClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
	})
}
