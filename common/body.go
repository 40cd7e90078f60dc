package common

import (
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/iselt/voice-relay/common/audio"
)

// Control body keys
const (
	KeyDisplayName      = "display_name"
	KeySampleRate       = "sample_rate"
	KeyChannels         = "channels"
	KeyWordType         = "word_type"
	KeyBufferSize       = "buffer_size"
	KeyConnectedUsers   = "connected_users"
	KeyDisconnectReason = "disconnect_reason"
)

// Body is the type-tagged payload of a packet.
type Body interface {
	isBody()
}

// ControlBody is the schema-less payload of HANDSHAKE, STATUS and DISCONNECT
// packets. After decoding, integers are int64, arrays are []any and nested
// maps are map[string]any.
type ControlBody map[string]any

// SoundBody carries one fragment of audio.
type SoundBody struct {
	SequenceID uint32
	Samples    audio.Frames
}

func (ControlBody) isBody() {}
func (SoundBody) isBody()   {}

var (
	controlEncMode cbor.EncMode
	controlDecMode cbor.DecMode
)

func init() {
	var err error
	controlEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	controlDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func encodeControlBody(dst []byte, body ControlBody) ([]byte, error) {
	if body == nil {
		body = ControlBody{}
	}
	b, err := controlEncMode.Marshal(map[string]any(body))
	if err != nil {
		return nil, fmt.Errorf("encode control body: %w", err)
	}
	return append(dst, b...), nil
}

func decodeControlBody(b []byte) (ControlBody, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty control body", ErrTruncatedPacket)
	}
	var m map[string]any
	if err := controlDecMode.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: control body: %v", ErrMalformedPacket, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return ControlBody(m), nil
}

// String returns the string stored under key.
func (b ControlBody) String(key string) (string, bool) {
	s, ok := b[key].(string)
	return s, ok
}

// Int returns the integer stored under key, accepting any integral number.
func (b ControlBody) Int(key string) (int64, bool) {
	switch v := b[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// Strings returns the array of strings stored under key.
func (b ControlBody) Strings(key string) ([]string, bool) {
	switch v := b[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func stringArray(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
