package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iselt/voice-relay/common/audio"
)

func stereoParams(word audio.WordType) SessionParams {
	return SessionParams{SampleRate: 8000, Channels: 2, WordType: word, BufferSize: 4}
}

func TestCodec_RoundTrip(t *testing.T) {
	params := DefaultSessionParams()
	tests := []struct {
		name   string
		params SessionParams
		packet Packet
	}{
		{"handshake request", params, NewHandshakeRequest("alice")},
		{"handshake reply", params, NewHandshakeReply(SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16, BufferSize: 160})},
		{"status request", params, NewStatusRequest()},
		{"status reply", params, NewStatusReply([]string{"alice", "bob", "carol"})},
		{"empty status reply", params, NewStatusReply(nil)},
		{"disconnect with reason", params, NewDisconnect("Inactivity")},
		{"disconnect without reason", params, NewDisconnect("")},
		{"heartbeat", params, NewHeartbeat()},
		{"nested control body", params, Packet{Type: PacketStatus, Body: ControlBody{
			"connected_users": []any{"a"},
			"meta":            map[string]any{"load": 0.5, "peers": []any{int64(1), int64(-2)}},
			"flag":            true,
		}}},
		{"float32 sound", stereoParams(audio.WordFloat32), NewSound(42, audio.Frames{
			Channels: 2,
			Samples:  []float64{0, 0.5, -0.5, 0.25, 1, -1, 0.125, -0.125},
		})},
		{"int16 sound", stereoParams(audio.WordInt16), NewSound(7, audio.Frames{
			Channels: 2,
			Samples:  []float64{-32768, 32767, 0, 100, -100, 5, 6, 7},
		})},
		{"max sequence id", stereoParams(audio.WordFloat64), NewSound(^uint32(0), audio.Frames{
			Channels: 2,
			Samples:  []float64{0.1, 0.2},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewCodec(tt.params)

			b, err := codec.Encode(tt.packet)
			require.NoError(t, err)
			assert.Equal(t, byte(ProtocolMagicNumber), b[0])
			assert.Equal(t, byte(tt.packet.Type), b[1])

			got, err := codec.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, got)
		})
	}
}

func TestCodec_SoundLayout(t *testing.T) {
	codec := NewCodec(SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16, BufferSize: 2})

	b, err := codec.Encode(NewSound(0x01020304, audio.Frames{Channels: 1, Samples: []float64{1, -1}}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x69, 0x01, 0x04, 0x03, 0x02, 0x01, 0x01, 0x00, 0xff, 0xff}, b)
}

func TestCodec_MagicEnforcement(t *testing.T) {
	codec := NewCodec(DefaultSessionParams())
	packets := []Packet{NewHandshakeRequest("bob"), NewHeartbeat(), NewStatusRequest()}

	for _, p := range packets {
		valid, err := codec.Encode(p)
		require.NoError(t, err)

		for magic := 0; magic < 256; magic++ {
			if magic == ProtocolMagicNumber {
				continue
			}
			b := bytes.Clone(valid)
			b[0] = byte(magic)
			_, err := codec.Decode(b)
			require.ErrorIs(t, err, ErrMalformedPacket, "type %s magic 0x%02x", p.Type, magic)
		}
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec := NewCodec(stereoParams(audio.WordFloat32))
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty datagram", nil, ErrTruncatedPacket},
		{"magic only", []byte{0x69}, ErrTruncatedPacket},
		{"unknown type", []byte{0x69, 0x03}, ErrUnknownPacketType},
		{"unknown type 0x80", []byte{0x69, 0x80, 0x00}, ErrUnknownPacketType},
		{"sound without sequence id", []byte{0x69, 0x01, 0x01, 0x02}, ErrTruncatedPacket},
		{"sound with partial frame", []byte{0x69, 0x01, 0, 0, 0, 0, 1, 2, 3, 4}, ErrTruncatedPacket},
		{"control without body", []byte{0x69, 0x00}, ErrTruncatedPacket},
		{"control body not a map", []byte{0x69, 0x02, 0x83, 0x01, 0x02, 0x03}, ErrMalformedPacket},
		{"control body garbage", []byte{0x69, 0x02, 0xff, 0xff}, ErrMalformedPacket},
		{"heartbeat with body", []byte{0x69, 0xfe, 0x00}, ErrMalformedPacket},
		{"oversized datagram", append([]byte{0x69, 0xfe}, make([]byte, MaxDatagramSize)...), ErrOversizedPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsDecodeError(err))
		})
	}
}

func TestCodec_EncodeRejectsOversized(t *testing.T) {
	params := SessionParams{SampleRate: 44100, Channels: 2, WordType: audio.WordFloat32, BufferSize: 150_000}
	codec := NewCodec(params)

	_, err := codec.Encode(NewSound(1, audio.NewFrames(params.BufferSize, params.Channels)))
	assert.ErrorIs(t, err, ErrOversizedPacket)
}

func TestCodec_EncodeRejectsChannelMismatch(t *testing.T) {
	codec := NewCodec(stereoParams(audio.WordFloat32))

	_, err := codec.Encode(NewSound(1, audio.Frames{Channels: 1, Samples: []float64{1, 2}}))
	assert.Error(t, err)
}

func TestCodec_EncodeRejectsUnknownType(t *testing.T) {
	_, err := NewCodec(DefaultSessionParams()).Encode(Packet{Type: PacketType(0x10)})
	assert.ErrorIs(t, err, ErrUnknownPacketType)
}

func TestControlBody_Accessors(t *testing.T) {
	body := ControlBody{
		"name":   "alice",
		"rate":   int64(8000),
		"small":  7,
		"float":  float64(3),
		"frac":   1.5,
		"users":  []any{"a", "b"},
		"typed":  []string{"x"},
		"mixed":  []any{"a", int64(1)},
		"number": int64(1),
	}

	s, ok := body.String("name")
	assert.True(t, ok)
	assert.Equal(t, "alice", s)
	_, ok = body.String("number")
	assert.False(t, ok)

	for key, want := range map[string]int64{"rate": 8000, "small": 7, "float": 3} {
		v, ok := body.Int(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
	_, ok = body.Int("frac")
	assert.False(t, ok)
	_, ok = body.Int("missing")
	assert.False(t, ok)

	users, ok := body.Strings("users")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, users)
	typed, ok := body.Strings("typed")
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, typed)
	_, ok = body.Strings("mixed")
	assert.False(t, ok)
}

func TestSessionParamsFromBody(t *testing.T) {
	want := SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16, BufferSize: 160}

	got, err := SessionParamsFromBody(want.Body())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	tests := []struct {
		name string
		body ControlBody
	}{
		{"missing sample rate", ControlBody{KeyChannels: int64(1), KeyWordType: "int16", KeyBufferSize: int64(160)}},
		{"missing word type", ControlBody{KeySampleRate: int64(8000), KeyChannels: int64(1), KeyBufferSize: int64(160)}},
		{"unknown word type", ControlBody{KeySampleRate: int64(8000), KeyChannels: int64(1), KeyWordType: "int24", KeyBufferSize: int64(160)}},
		{"zero channels", ControlBody{KeySampleRate: int64(8000), KeyChannels: int64(0), KeyWordType: "int16", KeyBufferSize: int64(160)}},
		{"zero length buffer period", ControlBody{KeySampleRate: int64(2_000_000_000), KeyChannels: int64(1), KeyWordType: "int16", KeyBufferSize: int64(1)}},
		{"datagram over udp limit", ControlBody{KeySampleRate: int64(8000), KeyChannels: int64(1), KeyWordType: "int16", KeyBufferSize: int64(32751)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SessionParamsFromBody(tt.body)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestSessionParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  SessionParams
		wantErr bool
	}{
		{"defaults", DefaultSessionParams(), false},
		{"largest sendable buffer", SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16, BufferSize: 32750}, false},
		{"one frame past udp limit", SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16, BufferSize: 32751}, true},
		{"buffer shorter than a nanosecond", SessionParams{SampleRate: 2_000_000_000, Channels: 1, WordType: audio.WordInt16, BufferSize: 1}, true},
		{"zero buffer", SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.LessOrEqual(t, tt.params.SoundPacketSize(), MaxUDPPayload)
			assert.Positive(t, tt.params.BufferDuration())
		})
	}
}

func TestSessionParams_BufferDuration(t *testing.T) {
	p := SessionParams{SampleRate: 8000, Channels: 1, WordType: audio.WordInt16, BufferSize: 160}
	assert.Equal(t, "20ms", p.BufferDuration().String())
}

func TestPacketType_String(t *testing.T) {
	assert.Equal(t, "HANDSHAKE", PacketHandshake.String())
	assert.Equal(t, "DISCONNECT", PacketDisconnect.String())
	assert.Equal(t, "UNKNOWN(0x10)", PacketType(0x10).String())
}
