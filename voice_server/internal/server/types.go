package server

import (
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/common/audio"
)

// ConnectedClient holds per-client state. Only the Registry touches it, and
// only with the registry lock held.
type ConnectedClient struct {
	ID          uuid.UUID
	DisplayName string
	Addr        *net.UDPAddr
	ConnectedAt time.Time
	LastPacket  time.Time

	// Inbound holds SOUND fragments until the mixing cycle consumes them.
	Inbound *audio.SequenceQueue

	limiter   *rate.Limiter
	joinOrder uint64
	packetsIn uint64
	bytesIn   uint64
	dropped   uint64
}

func (c *ConnectedClient) info() ClientInfo {
	return ClientInfo{
		ID:              c.ID.String(),
		DisplayName:     c.DisplayName,
		Address:         c.Addr.String(),
		ConnectedAt:     c.ConnectedAt,
		LastPacket:      c.LastPacket,
		QueuedFragments: c.Inbound.Len(),
		PacketsIn:       c.packetsIn,
		BytesIn:         c.bytesIn,
		Dropped:         c.dropped,
	}
}

// ClientInfo is a copy of a client's state, safe to use without the lock.
type ClientInfo struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	Address         string    `json:"address"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastPacket      time.Time `json:"last_packet"`
	QueuedFragments int       `json:"queued_fragments"`
	PacketsIn       uint64    `json:"packets_in"`
	BytesIn         uint64    `json:"bytes_in"`
	Dropped         uint64    `json:"dropped"`
}

// Outbound is a packet waiting to be sent once the registry lock is released.
type Outbound struct {
	Addr   *net.UDPAddr
	Packet common.Packet
}

// Drop reasons, also used as metric labels.
const (
	DropDecode        = "decode"
	DropUnknownSender = "unknown_sender"
	DropRateLimited   = "rate_limited"
	DropQueueFull     = "queue_full"
	DropStale         = "stale"
)

// IngressResult reports what handling one datagram did.
type IngressResult struct {
	Replies []Outbound
	// Client is the sender after handling. Zero when the sender is unknown.
	Client ClientInfo
	Joined bool
	Left   bool
	// Drop is the reason the packet was discarded, if it was.
	Drop string
}

// Disconnect reasons sent by the server
const (
	ReasonInactivity = "Inactivity"
	ReasonShutdown   = "Server shutting down"
	ReasonKicked     = "Removed by administrator"
)
