package common

import (
	"fmt"
	"time"

	"github.com/iselt/voice-relay/common/audio"
)

// SessionParams is the audio format negotiated at handshake. The server's
// values win; a client's local defaults only apply until the reply arrives.
type SessionParams struct {
	SampleRate int            `toml:"sample_rate" json:"sample_rate"`
	Channels   int            `toml:"channels" json:"channels"`
	WordType   audio.WordType `toml:"word_type" json:"word_type"`
	BufferSize int            `toml:"buffer_size" json:"buffer_size"`
}

// DefaultSessionParams returns CD-rate stereo float32 in 1024-frame buffers,
// which keeps one SOUND packet at about 8 KiB.
func DefaultSessionParams() SessionParams {
	return SessionParams{
		SampleRate: 44100,
		Channels:   2,
		WordType:   audio.WordFloat32,
		BufferSize: 1024,
	}
}

func (p SessionParams) Format() audio.Format {
	return audio.Format{Channels: p.Channels, WordType: p.WordType}
}

// SoundPacketSize returns the datagram size of one full SOUND buffer.
func (p SessionParams) SoundPacketSize() int {
	return HeaderLen + SequenceIDLen + p.BufferSize*p.Format().FrameBytes()
}

// BufferDuration returns the playback time of one buffer.
func (p SessionParams) BufferDuration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.BufferSize) * time.Second / time.Duration(p.SampleRate)
}

func (p SessionParams) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive, got %d", ErrInvalidConfig, p.SampleRate)
	}
	if err := p.Format().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive, got %d", ErrInvalidConfig, p.BufferSize)
	}
	if p.BufferDuration() <= 0 {
		return fmt.Errorf("%w: buffer_size %d at sample_rate %d lasts under a nanosecond",
			ErrInvalidConfig, p.BufferSize, p.SampleRate)
	}
	if size := p.SoundPacketSize(); size > MaxUDPPayload {
		return fmt.Errorf("%w: buffer_size %d makes %d byte datagrams, limit is %d",
			ErrInvalidConfig, p.BufferSize, size, MaxUDPPayload)
	}
	return nil
}

// Body renders p as a HANDSHAKE reply body.
func (p SessionParams) Body() ControlBody {
	return ControlBody{
		KeySampleRate: int64(p.SampleRate),
		KeyChannels:   int64(p.Channels),
		KeyWordType:   string(p.WordType),
		KeyBufferSize: int64(p.BufferSize),
	}
}

// SessionParamsFromBody parses a HANDSHAKE reply body. All four keys are
// required and the result must validate.
func SessionParamsFromBody(b ControlBody) (SessionParams, error) {
	var p SessionParams
	for _, field := range []struct {
		key string
		dst *int
	}{
		{KeySampleRate, &p.SampleRate},
		{KeyChannels, &p.Channels},
		{KeyBufferSize, &p.BufferSize},
	} {
		v, ok := b.Int(field.key)
		if !ok {
			return SessionParams{}, fmt.Errorf("%w: handshake reply missing %s", ErrMalformedPacket, field.key)
		}
		*field.dst = int(v)
	}
	word, ok := b.String(KeyWordType)
	if !ok {
		return SessionParams{}, fmt.Errorf("%w: handshake reply missing %s", ErrMalformedPacket, KeyWordType)
	}
	p.WordType = audio.WordType(word)

	if err := p.Validate(); err != nil {
		return SessionParams{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return p, nil
}
