package signal

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ShivKnp/CodeCrew/internal/models"
)

// memberInfo is the hub-side roster entry for one live connection.
type memberInfo struct {
	models.PeerInfo
	named bool
}

// Room holds the signaling membership for one session. Both routing
// indices (connection to info, peer id to connection) live under a single
// mutex so a join racing a broadcast never observes them out of sync.
//
// remote tracks peers connected to sibling service instances; they are
// visible in the roster but have no local connection to route to.
type Room struct {
	ID string

	mu     sync.Mutex
	peers  map[*Peer]*memberInfo
	byID   map[string]*Peer
	remote map[string]models.PeerInfo
}

func NewRoom(id string) *Room {
	return &Room{
		ID:     id,
		peers:  make(map[*Peer]*memberInfo),
		byID:   make(map[string]*Peer),
		remote: make(map[string]models.PeerInfo),
	}
}

// Join registers a connection, allocating a fresh peer id with a
// placeholder display name.
func (r *Room) Join(p *Peer) models.PeerInfo {
	info := &memberInfo{PeerInfo: models.PeerInfo{
		PeerID:      uuid.New().String(),
		DisplayName: "Anonymous",
	}}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = info
	r.byID[info.PeerID] = p
	return info.PeerInfo
}

// Leave removes a connection from both indices and reports whether the
// peer had registered a name plus the remaining member count.
func (r *Room) Leave(p *Peer) (info models.PeerInfo, named bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.peers[p]
	if !ok {
		return models.PeerInfo{}, false, len(r.peers)
	}
	delete(r.peers, p)
	delete(r.byID, m.PeerID)
	return m.PeerInfo, m.named, len(r.peers)
}

// Rename sets the display name on the first join message.
func (r *Room) Rename(p *Peer, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.peers[p]; ok {
		m.DisplayName = name
		m.named = true
	}
}

// SetMedia updates the sender's mic/camera flags.
func (r *Room) SetMedia(p *Peer, state models.MediaState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.peers[p]; ok {
		m.MicOn = state.Mic
		m.CameraOn = state.Camera
	}
}

// Info returns a copy of the sender's roster entry.
func (r *Room) Info(p *Peer) (models.PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.peers[p]
	if !ok {
		return models.PeerInfo{}, false
	}
	return m.PeerInfo, true
}

// Unicast delivers to the peer id's connection if it is still live.
func (r *Room) Unicast(to string, env models.SignalEnvelope) bool {
	r.mu.Lock()
	target, ok := r.byID[to]
	r.mu.Unlock()
	if !ok {
		return false
	}
	target.Send(env)
	return true
}

// Broadcast delivers to every live connection except the sender.
func (r *Room) Broadcast(sender *Peer, env models.SignalEnvelope) {
	r.mu.Lock()
	targets := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		if p != sender {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()
	for _, p := range targets {
		p.Send(env)
	}
}

// Size returns the number of live local connections.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Roster returns every known participant, local connections first.
func (r *Room) Roster() []models.PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PeerInfo, 0, len(r.peers)+len(r.remote))
	for _, m := range r.peers {
		out = append(out, m.PeerInfo)
	}
	for _, info := range r.remote {
		out = append(out, info)
	}
	return out
}

func (r *Room) addRemote(info models.PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote[info.PeerID] = info
}

func (r *Room) removeRemote(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remote, peerID)
}

func (r *Room) setRemoteMedia(peerID string, state models.MediaState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.remote[peerID]; ok {
		info.MicOn = state.Mic
		info.CameraOn = state.Camera
		r.remote[peerID] = info
	}
}
