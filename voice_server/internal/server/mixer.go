package server

import (
	"context"
	"time"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/common/audio"
)

func (s *Server) mixLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.MixInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mixOnce()
		}
	}
}

// mixOnce takes one fragment from every client that has one and sends each
// contributor the mix of everyone else. It returns the number of mixes sent.
func (s *Server) mixOnce() int {
	start := time.Now()

	contributions := s.Registry.PopFragments()
	if len(contributions) < 2 {
		return 0
	}

	fragments := make(map[string]audio.Frames, len(contributions))
	for key, c := range contributions {
		fragments[key] = c.Frames
	}
	mixes := audio.MixExcluding(fragments, audio.MixGain)

	s.mixSeq++
	for key, frames := range mixes {
		s.send(Outbound{Addr: contributions[key].Addr, Packet: common.NewSound(s.mixSeq, frames)})
	}

	s.Metrics.RecordMix(len(contributions), time.Since(start).Seconds())
	return len(mixes)
}
