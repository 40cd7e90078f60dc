package server

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/common/audio"
)

// Registry is the server's map of connected clients keyed by remote address.
// Every method takes the single registry mutex for the shortest possible
// section and never sends on the network while holding it: packets to send
// are returned to the caller instead.
type Registry struct {
	mu        sync.Mutex
	clients   map[string]*ConnectedClient
	joinCount uint64

	params    common.SessionParams
	queueOpts audio.QueueOptions
	rateLimit int
	now       func() time.Time
}

// NewRegistry creates an empty registry. params is the fixed session format
// every HANDSHAKE is answered with. maxQueued bounds each inbound queue and
// packetsPerSecond limits SOUND ingress per client (0 disables either).
func NewRegistry(params common.SessionParams, maxQueued, packetsPerSecond int) *Registry {
	return &Registry{
		clients:   make(map[string]*ConnectedClient),
		params:    params,
		queueOpts: audio.QueueOptions{Capacity: maxQueued, DropStale: true},
		rateLimit: packetsPerSecond,
		now:       time.Now,
	}
}

// Dispatch applies one received packet from addr. size is the datagram size.
func (r *Registry) Dispatch(addr *net.UDPAddr, p common.Packet, size int) IngressResult {
	key := addr.String()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var res IngressResult
	client := r.clients[key]
	if client == nil && p.Type != common.PacketHandshake {
		res.Drop = DropUnknownSender
		return res
	}

	switch p.Type {
	case common.PacketHandshake:
		if client == nil {
			client = r.registerLocked(addr, p.Control(), now)
			res.Joined = true
		}
		res.Replies = append(res.Replies, Outbound{Addr: client.Addr, Packet: common.NewHandshakeReply(r.params)})

	case common.PacketHeartbeat:

	case common.PacketStatus:
		res.Replies = append(res.Replies, Outbound{Addr: client.Addr, Packet: common.NewStatusReply(r.displayNamesLocked())})

	case common.PacketSound:
		res.Drop = r.enqueueLocked(client, p)

	case common.PacketDisconnect:
		res.Replies = append(res.Replies, Outbound{Addr: client.Addr, Packet: common.NewDisconnect("")})
		delete(r.clients, key)
		res.Left = true
	}

	client.LastPacket = now
	client.packetsIn++
	client.bytesIn += uint64(size)
	if res.Drop != "" {
		client.dropped++
	}
	res.Client = client.info()
	return res
}

func (r *Registry) registerLocked(addr *net.UDPAddr, body common.ControlBody, now time.Time) *ConnectedClient {
	name, ok := body.String(common.KeyDisplayName)
	if !ok || name == "" {
		name = "anonymous"
	}

	r.joinCount++
	client := &ConnectedClient{
		ID:          uuid.New(),
		DisplayName: name,
		Addr:        addr,
		ConnectedAt: now,
		LastPacket:  now,
		Inbound:     audio.NewSequenceQueue(r.queueOpts),
		joinOrder:   r.joinCount,
	}
	if r.rateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(r.rateLimit), r.rateLimit)
	}
	r.clients[addr.String()] = client
	return client
}

func (r *Registry) enqueueLocked(client *ConnectedClient, p common.Packet) string {
	body, ok := p.Sound()
	if !ok {
		return DropDecode
	}
	if client.limiter != nil && !client.limiter.Allow() {
		return DropRateLimited
	}
	switch client.Inbound.Push(audio.Fragment{SequenceID: body.SequenceID, Frames: body.Samples}) {
	case audio.DroppedStale, audio.DroppedDuplicate:
		return DropStale
	case audio.QueuedEvicted:
		return DropQueueFull
	}
	return ""
}

// sortedLocked returns the clients in join order.
func (r *Registry) sortedLocked() []*ConnectedClient {
	out := make([]*ConnectedClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinOrder < out[j].joinOrder })
	return out
}

func (r *Registry) displayNamesLocked() []string {
	clients := r.sortedLocked()
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.DisplayName
	}
	return names
}

// Contribution is one client's fragment taken for a mixing cycle.
type Contribution struct {
	Addr   *net.UDPAddr
	Frames audio.Frames
}

// PopFragments removes the oldest queued fragment of every client that has
// one, keyed by address.
func (r *Registry) PopFragments() map[string]Contribution {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]Contribution)
	for key, c := range r.clients {
		if frag, ok := c.Inbound.Pop(); ok {
			snapshot[key] = Contribution{Addr: c.Addr, Frames: frag.Frames}
		}
	}
	return snapshot
}

// Sweep removes every client idle for longer than timeout. It returns the
// removed clients and the packets to send: DISCONNECT for each removed client,
// HEARTBEAT for everyone else.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) ([]ClientInfo, []Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []ClientInfo
	out := make([]Outbound, 0, len(r.clients))
	for key, c := range r.clients {
		if now.Sub(c.LastPacket) > timeout {
			expired = append(expired, c.info())
			out = append(out, Outbound{Addr: c.Addr, Packet: common.NewDisconnect(ReasonInactivity)})
			delete(r.clients, key)
			continue
		}
		out = append(out, Outbound{Addr: c.Addr, Packet: common.NewHeartbeat()})
	}
	return expired, out
}

// Kick removes the client with the given id and returns the DISCONNECT to
// send to it.
func (r *Registry) Kick(id string) (ClientInfo, Outbound, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, c := range r.clients {
		if c.ID.String() == id {
			delete(r.clients, key)
			return c.info(), Outbound{Addr: c.Addr, Packet: common.NewDisconnect(ReasonKicked)}, true
		}
	}
	return ClientInfo{}, Outbound{}, false
}

// RemoveAll empties the registry. It returns what it held and a DISCONNECT
// carrying reason for each client.
func (r *Registry) RemoveAll(reason string) ([]ClientInfo, []Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := r.sortedLocked()
	infos := make([]ClientInfo, len(clients))
	out := make([]Outbound, len(clients))
	for i, c := range clients {
		infos[i] = c.info()
		out[i] = Outbound{Addr: c.Addr, Packet: common.NewDisconnect(reason)}
	}
	r.clients = make(map[string]*ConnectedClient)
	return infos, out
}

// Clients returns a copy of every client in join order.
func (r *Registry) Clients() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := r.sortedLocked()
	infos := make([]ClientInfo, len(clients))
	for i, c := range clients {
		infos[i] = c.info()
	}
	return infos
}

// Client looks a client up by id.
func (r *Registry) Client(id string) (ClientInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		if c.ID.String() == id {
			return c.info(), true
		}
	}
	return ClientInfo{}, false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Params returns the session format handed out at handshake.
func (r *Registry) Params() common.SessionParams { return r.params }
