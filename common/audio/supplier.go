package audio

import "sync/atomic"

// FrameSupplier adapts a queue of variable-length fragments to the fixed-size
// pull interface of an audio output callback. It never blocks: when the
// queue runs dry the remainder is filled with silence.
//
// Frames is meant to be called from a single playback worker.
type FrameSupplier struct {
	queue    *SequenceQueue
	channels int

	current Frames
	offset  int // next unread frame of current

	underruns atomic.Uint64
}

func NewFrameSupplier(queue *SequenceQueue, channels int) *FrameSupplier {
	return &FrameSupplier{queue: queue, channels: channels}
}

// Frames returns exactly n frames, continuing the current fragment and then
// splicing in queued fragments in sequence order.
func (s *FrameSupplier) Frames(n int) Frames {
	out := NewFrames(n, s.channels)
	filled := 0
	for filled < n {
		if s.offset >= s.current.Len() {
			frag, ok := s.queue.Pop()
			if !ok {
				s.underruns.Add(1)
				break
			}
			s.current = frag.Frames
			s.offset = 0
			continue
		}

		take := min(n-filled, s.current.Len()-s.offset)
		s.copyFrames(out, filled, take)
		filled += take
		s.offset += take
	}
	return out
}

// copyFrames copies take frames of the current fragment into out starting at
// frame dst. Channel counts that differ from the supplier's are folded:
// extra source channels are dropped and missing ones stay silent.
func (s *FrameSupplier) copyFrames(out Frames, dst, take int) {
	src := s.current
	if src.Channels == s.channels {
		copy(out.Samples[dst*s.channels:], src.Samples[s.offset*s.channels:(s.offset+take)*s.channels])
		return
	}
	shared := min(src.Channels, s.channels)
	for i := 0; i < take; i++ {
		copy(out.Frame(dst + i)[:shared], src.Frame(s.offset + i)[:shared])
	}
}

// Underruns returns how many calls ran out of queued audio.
func (s *FrameSupplier) Underruns() uint64 { return s.underruns.Load() }
