package server

import (
	"context"
	"time"
)

func (s *Server) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.Protocol.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep drops idle clients and keeps the others alive with a HEARTBEAT.
func (s *Server) sweep(now time.Time) {
	expired, out := s.Registry.Sweep(now, s.Config.Protocol.Timeout())
	s.sendAll(out)

	for _, info := range expired {
		s.Metrics.Timeouts.Inc()
		s.clientRemoved(info, EventTimeout, ReasonInactivity)
	}
}

// broadcastShutdown tells every client the server is going away. It is best
// effort: send failures are only logged.
func (s *Server) broadcastShutdown() {
	infos, out := s.Registry.RemoveAll(ReasonShutdown)
	if len(infos) == 0 {
		return
	}

	s.sugar.Infow("Notifying clients of shutdown", "clients", len(infos))
	s.sendAll(out)
	for _, info := range infos {
		s.clientRemoved(info, EventShutdown, ReasonShutdown)
	}
}
