// Package audio holds the sample-level building blocks shared by the relay
// server and the client: word types, interleaved frame buffers, the
// sequence-ordered fragment queue, mixing and the playback frame supplier.
package audio

import "fmt"

// Format is the part of the session parameters needed to interpret a flat
// sample buffer as frames.
type Format struct {
	Channels int
	WordType WordType
}

// FrameBytes returns the encoded size of one frame.
func (f Format) FrameBytes() int { return f.Channels * f.WordType.Size() }

// Validate reports whether the format can shape a sample buffer.
func (f Format) Validate() error {
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channels must be positive, got %d", f.Channels)
	}
	if !f.WordType.Valid() {
		return fmt.Errorf("audio: unknown word type %q", string(f.WordType))
	}
	return nil
}

// Frames is an interleaved sample buffer shaped frames × channels.
type Frames struct {
	Channels int
	Samples  []float64
}

// NewFrames returns n silent frames.
func NewFrames(n, channels int) Frames {
	return Frames{Channels: channels, Samples: make([]float64, n*channels)}
}

// Len returns the number of frames.
func (f Frames) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Frame returns the samples of frame i, one per channel.
func (f Frames) Frame(i int) []float64 {
	return f.Samples[i*f.Channels : (i+1)*f.Channels]
}

// Clone returns a deep copy of f.
func (f Frames) Clone() Frames {
	return Frames{Channels: f.Channels, Samples: append([]float64(nil), f.Samples...)}
}
