package common

import (
	"encoding/binary"
	"fmt"

	"github.com/iselt/voice-relay/common/audio"
)

const (
	ProtocolMagicNumber = 0x69

	// HeaderLen covers the magic byte and the type byte.
	HeaderLen = 2
	// SequenceIDLen is the size of the little-endian sequence id that opens
	// every SOUND body.
	SequenceIDLen = 4

	// MaxDatagramSize bounds every encoded packet and the receive buffers.
	MaxDatagramSize = 65536
	// MaxUDPPayload is the largest datagram an IPv4 socket will send. Session
	// parameters are sized against it.
	MaxUDPPayload = 65507
)

// PacketType identifies the body codec of a packet.
type PacketType uint8

const (
	PacketHandshake  PacketType = 0x00
	PacketSound      PacketType = 0x01
	PacketStatus     PacketType = 0x02
	PacketHeartbeat  PacketType = 0xfe
	PacketDisconnect PacketType = 0xff
)

func (t PacketType) String() string {
	switch t {
	case PacketHandshake:
		return "HANDSHAKE"
	case PacketSound:
		return "SOUND"
	case PacketStatus:
		return "STATUS"
	case PacketHeartbeat:
		return "HEARTBEAT"
	case PacketDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Known reports whether t is one of the protocol's packet types.
func (t PacketType) Known() bool {
	switch t {
	case PacketHandshake, PacketSound, PacketStatus, PacketHeartbeat, PacketDisconnect:
		return true
	}
	return false
}

// Packet is the unit of transport. Body is nil for HEARTBEAT, a SoundBody for
// SOUND and a ControlBody otherwise.
type Packet struct {
	Type PacketType
	Body Body
}

func NewHandshakeRequest(displayName string) Packet {
	return Packet{Type: PacketHandshake, Body: ControlBody{KeyDisplayName: displayName}}
}

func NewHandshakeReply(params SessionParams) Packet {
	return Packet{Type: PacketHandshake, Body: params.Body()}
}

func NewStatusRequest() Packet {
	return Packet{Type: PacketStatus, Body: ControlBody{}}
}

func NewStatusReply(users []string) Packet {
	return Packet{Type: PacketStatus, Body: ControlBody{KeyConnectedUsers: stringArray(users)}}
}

// NewDisconnect builds a DISCONNECT packet. An empty reason is omitted.
func NewDisconnect(reason string) Packet {
	body := ControlBody{}
	if reason != "" {
		body[KeyDisconnectReason] = reason
	}
	return Packet{Type: PacketDisconnect, Body: body}
}

func NewHeartbeat() Packet {
	return Packet{Type: PacketHeartbeat}
}

func NewSound(sequenceID uint32, samples audio.Frames) Packet {
	return Packet{Type: PacketSound, Body: SoundBody{SequenceID: sequenceID, Samples: samples}}
}

// Control returns the control body, or an empty one for other packet kinds.
func (p Packet) Control() ControlBody {
	if body, ok := p.Body.(ControlBody); ok {
		return body
	}
	return ControlBody{}
}

// Sound returns the sound body of a SOUND packet.
func (p Packet) Sound() (SoundBody, bool) {
	body, ok := p.Body.(SoundBody)
	return body, ok
}

// Codec serializes packets. Format tells the codec how to encode samples and
// how to reshape a received flat sample buffer; it is the negotiated format
// and is not carried on the wire.
type Codec struct {
	Format audio.Format
	// MaxDatagram is the largest packet Encode produces.
	MaxDatagram int
}

func NewCodec(params SessionParams) Codec {
	return Codec{Format: params.Format(), MaxDatagram: MaxDatagramSize}
}

// Encode serializes p. Packets that would exceed MaxDatagram are rejected
// with ErrOversizedPacket rather than truncated.
func (c Codec) Encode(p Packet) ([]byte, error) {
	if !p.Type.Known() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPacketType, uint8(p.Type))
	}

	dst := make([]byte, HeaderLen, c.sizeHint(p))
	dst[0] = ProtocolMagicNumber
	dst[1] = byte(p.Type)

	var err error
	switch p.Type {
	case PacketHeartbeat:
		if p.Body != nil {
			return nil, fmt.Errorf("heartbeat packets carry no body")
		}
	case PacketSound:
		body, ok := p.Body.(SoundBody)
		if !ok {
			return nil, fmt.Errorf("sound packet with %T body", p.Body)
		}
		dst, err = c.encodeSound(dst, body)
	default:
		var body ControlBody
		if p.Body != nil {
			var ok bool
			if body, ok = p.Body.(ControlBody); !ok {
				return nil, fmt.Errorf("%s packet with %T body", p.Type, p.Body)
			}
		}
		dst, err = encodeControlBody(dst, body)
	}
	if err != nil {
		return nil, err
	}

	if limit := c.maxDatagram(); len(dst) > limit {
		return nil, fmt.Errorf("%w: %s packet is %d bytes, limit %d", ErrOversizedPacket, p.Type, len(dst), limit)
	}
	return dst, nil
}

// Decode parses a datagram. Every error wraps one of ErrMalformedPacket,
// ErrUnknownPacketType, ErrTruncatedPacket or ErrOversizedPacket.
func (c Codec) Decode(b []byte) (Packet, error) {
	if limit := c.maxDatagram(); len(b) > limit {
		return Packet{}, fmt.Errorf("%w: %d bytes, limit %d", ErrOversizedPacket, len(b), limit)
	}
	if len(b) < 1 {
		return Packet{}, fmt.Errorf("%w: empty datagram", ErrTruncatedPacket)
	}
	if b[0] != ProtocolMagicNumber {
		return Packet{}, fmt.Errorf("%w: magic 0x%02x", ErrMalformedPacket, b[0])
	}
	if len(b) < HeaderLen {
		return Packet{}, fmt.Errorf("%w: missing type byte", ErrTruncatedPacket)
	}

	t := PacketType(b[1])
	if !t.Known() {
		return Packet{}, fmt.Errorf("%w: 0x%02x", ErrUnknownPacketType, b[1])
	}
	payload := b[HeaderLen:]

	switch t {
	case PacketHeartbeat:
		if len(payload) != 0 {
			return Packet{}, fmt.Errorf("%w: heartbeat with %d byte body", ErrMalformedPacket, len(payload))
		}
		return Packet{Type: t}, nil
	case PacketSound:
		body, err := c.decodeSound(payload)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: t, Body: body}, nil
	default:
		body, err := decodeControlBody(payload)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: t, Body: body}, nil
	}
}

func (c Codec) encodeSound(dst []byte, body SoundBody) ([]byte, error) {
	if err := c.Format.Validate(); err != nil {
		return nil, err
	}
	if body.Samples.Channels != c.Format.Channels {
		return nil, fmt.Errorf("sound body has %d channels, session has %d", body.Samples.Channels, c.Format.Channels)
	}
	if len(body.Samples.Samples)%c.Format.Channels != 0 {
		return nil, fmt.Errorf("sound body has %d samples, not a whole number of %d-channel frames",
			len(body.Samples.Samples), c.Format.Channels)
	}

	dst = binary.LittleEndian.AppendUint32(dst, body.SequenceID)
	return c.Format.WordType.AppendSamples(dst, body.Samples.Samples)
}

func (c Codec) decodeSound(payload []byte) (SoundBody, error) {
	if len(payload) < SequenceIDLen {
		return SoundBody{}, fmt.Errorf("%w: sound body of %d bytes", ErrTruncatedPacket, len(payload))
	}
	if err := c.Format.Validate(); err != nil {
		return SoundBody{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	id := binary.LittleEndian.Uint32(payload[:SequenceIDLen])
	raw := payload[SequenceIDLen:]
	if len(raw)%c.Format.FrameBytes() != 0 {
		return SoundBody{}, fmt.Errorf("%w: %d sample bytes is not a whole number of %d byte frames",
			ErrTruncatedPacket, len(raw), c.Format.FrameBytes())
	}

	samples, err := c.Format.WordType.DecodeSamples(raw)
	if err != nil {
		return SoundBody{}, fmt.Errorf("%w: %v", ErrTruncatedPacket, err)
	}
	return SoundBody{
		SequenceID: id,
		Samples:    audio.Frames{Channels: c.Format.Channels, Samples: samples},
	}, nil
}

func (c Codec) maxDatagram() int {
	if c.MaxDatagram <= 0 {
		return MaxDatagramSize
	}
	return c.MaxDatagram
}

func (c Codec) sizeHint(p Packet) int {
	if body, ok := p.Body.(SoundBody); ok {
		return HeaderLen + SequenceIDLen + len(body.Samples.Samples)*c.Format.WordType.Size()
	}
	return 64
}
