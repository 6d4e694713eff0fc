package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ShivKnp/CodeCrew/internal/metrics"
	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

const presenceChannel = "signal:presence"

// Registry owns every active room. Rooms are created lazily on first join
// and deleted when the last member leaves; nothing is persisted.
//
// When a Redis address is configured the registry publishes join/leave and
// media events so sibling instances keep their rosters in sync. Signaling
// traffic itself is never relayed across instances.
type Registry struct {
	log *utils.Logger

	mu    sync.RWMutex
	rooms map[string]*Room

	rdb        *redis.Client
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewRegistry(log *utils.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:        log,
		rooms:      make(map[string]*Room),
		instanceID: uuid.New().String(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// NewRegistryWithRedis additionally connects the presence fan-out channel.
func NewRegistryWithRedis(log *utils.Logger, redisAddr string) *Registry {
	reg := NewRegistry(log)
	reg.rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
	go reg.subscribePresenceEvents()
	log.Info("signal registry presence fan-out enabled", "instance", reg.instanceID, "redis", redisAddr)
	return reg
}

// InstanceID identifies this process on the presence channel.
func (reg *Registry) InstanceID() string { return reg.instanceID }

func (reg *Registry) GetOrCreate(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[id]; ok {
		return r
	}
	r := NewRoom(id)
	reg.rooms[id] = r
	metrics.SetSignalRooms(len(reg.rooms))
	return r
}

func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// deleteIfEmpty removes the room only if it is still registered and still
// has no members, both re-checked under the registry lock. A join that
// raced the last departure keeps the room alive.
func (reg *Registry) deleteIfEmpty(room *Room) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rooms[room.ID] != room || room.Size() > 0 {
		return false
	}
	delete(reg.rooms, room.ID)
	metrics.SetSignalRooms(len(reg.rooms))
	return true
}

// Connect registers a new connection in the room (creating it if absent)
// and delivers the assign-id envelope to that connection only. The room
// lookup and the membership insert share the registry lock so a join can
// never land in a room a concurrent departure is about to delete.
func (reg *Registry) Connect(roomID string, p *Peer) (*Room, models.PeerInfo) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		reg.rooms[roomID] = room
		metrics.SetSignalRooms(len(reg.rooms))
	}
	info := room.Join(p)
	reg.mu.Unlock()

	metrics.AddSignalPeers(1)
	p.Send(models.SignalEnvelope{Type: models.SignalAssignID, ID: info.PeerID})
	reg.log.Info("peer connected", "room", roomID, "peer", info.PeerID)
	return room, info
}

// Dispatch routes one raw inbound message. Malformed input is logged and
// discarded; it must never crash or desync the room.
func (reg *Registry) Dispatch(room *Room, sender *Peer, raw []byte) {
	var env models.SignalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		reg.log.Warn("discarding malformed signaling message", "room", room.ID, "error", err.Error())
		return
	}
	if env.Type == "" {
		reg.log.Warn("discarding signaling message without type", "room", room.ID)
		return
	}

	switch env.Type {
	case models.SignalJoin:
		if env.Name != "" {
			room.Rename(sender, env.Name)
			if info, ok := room.Info(sender); ok {
				reg.publishPresence(models.PresenceEvent{
					Type: "peer-joined", RoomID: room.ID,
					PeerID: info.PeerID, Name: info.DisplayName,
				})
			}
		}
	case models.SignalMediaUpdate:
		var state models.MediaState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			reg.log.Warn("discarding malformed media-update", "room", room.ID, "error", err.Error())
			return
		}
		room.SetMedia(sender, state)
		if info, ok := room.Info(sender); ok {
			reg.publishPresence(models.PresenceEvent{
				Type: "media-update", RoomID: room.ID,
				PeerID: info.PeerID, Mic: state.Mic, Camera: state.Camera,
			})
		}
	}

	info, ok := room.Info(sender)
	if !ok {
		return
	}
	env.From = info.PeerID
	env.Name = info.DisplayName

	if env.To != "" {
		// A dead target is a benign race with a concurrent departure.
		if room.Unicast(env.To, env) {
			metrics.CountSignalMessage(env.Type, "unicast")
		} else {
			metrics.CountSignalMessage(env.Type, "dropped")
		}
		return
	}
	room.Broadcast(sender, env)
	metrics.CountSignalMessage(env.Type, "broadcast")
}

// Disconnect removes the peer, notifies the remaining members and deletes
// the room once empty.
func (reg *Registry) Disconnect(room *Room, p *Peer) {
	info, named, remaining := room.Leave(p)
	p.Close()
	metrics.AddSignalPeers(-1)

	if named {
		room.Broadcast(nil, models.SignalEnvelope{
			Type: models.SignalLeave,
			From: info.PeerID,
			Name: info.DisplayName,
		})
		reg.publishPresence(models.PresenceEvent{
			Type: "peer-left", RoomID: room.ID, PeerID: info.PeerID, Name: info.DisplayName,
		})
	}
	if remaining == 0 && reg.deleteIfEmpty(room) {
		reg.log.Info("room closed", "room", room.ID)
	}
	reg.log.Info("peer disconnected", "room", room.ID, "peer", info.PeerID)
}

// Close stops the presence subscriber and drops all rooms.
func (reg *Registry) Close() {
	reg.cancel()
	reg.mu.Lock()
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()
	if reg.rdb != nil {
		_ = reg.rdb.Close()
	}
}

func (reg *Registry) publishPresence(event models.PresenceEvent) {
	if reg.rdb == nil {
		return
	}
	event.InstanceID = reg.instanceID
	event.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(event)
	if err != nil {
		reg.log.Error("marshal presence event", "error", err.Error())
		return
	}
	if err := reg.rdb.Publish(reg.ctx, presenceChannel, data).Err(); err != nil {
		reg.log.Error("publish presence event", "error", err.Error())
	}
}

func (reg *Registry) subscribePresenceEvents() {
	pubsub := reg.rdb.Subscribe(reg.ctx, presenceChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-reg.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				reg.log.Warn("malformed presence event", "error", err.Error())
				continue
			}
			if event.InstanceID == reg.instanceID {
				continue
			}
			reg.applyRemotePresence(event)
		}
	}
}

// applyRemotePresence folds an event from a sibling instance into the
// local roster. Rooms this instance does not host are ignored.
func (reg *Registry) applyRemotePresence(event models.PresenceEvent) {
	room, ok := reg.Get(event.RoomID)
	if !ok {
		return
	}
	switch event.Type {
	case "peer-joined":
		room.addRemote(models.PeerInfo{PeerID: event.PeerID, DisplayName: event.Name})
	case "peer-left":
		room.removeRemote(event.PeerID)
	case "media-update":
		room.setRemoteMedia(event.PeerID, models.MediaState{Mic: event.Mic, Camera: event.Camera})
	default:
		reg.log.Warn("unknown presence event type", "type", event.Type)
	}
}

// RoomStatus is a point-in-time roster view served over HTTP.
type RoomStatus struct {
	ID        string            `json:"id"`
	PeerCount int               `json:"peerCount"`
	Peers     []models.PeerInfo `json:"peers"`
}

// Status returns the roster of a room, or an error if it does not exist.
func (reg *Registry) Status(roomID string) (RoomStatus, error) {
	room, ok := reg.Get(roomID)
	if !ok {
		return RoomStatus{}, fmt.Errorf("room %s not found", roomID)
	}
	peers := room.Roster()
	return RoomStatus{ID: room.ID, PeerCount: len(peers), Peers: peers}, nil
}
