package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/common/audio"
)

// captureBacklog is how many captured chunks may wait for the send worker.
const captureBacklog = 8

// Run streams audio until ctx is cancelled, the server disconnects the
// client (*common.DisconnectError) or the server goes silent
// (common.ErrTimeout). On cancellation it tells the server it is leaving.
// dev is closed before Run returns.
func (s *Session) Run(ctx context.Context, dev Device) (err error) {
	defer func() { err = multierr.Append(err, dev.Close()) }()

	if st := s.State(); st != StateConnected {
		return fmt.Errorf("session is %s, not connected", st)
	}
	s.lastReceived.Store(s.now().UnixNano())

	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan audio.Frames, captureBacklog)

	g.Go(func() error { return s.captureLoop(gctx, dev, chunks) })
	g.Go(func() error { return s.sendLoop(gctx, chunks) })
	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.playbackLoop(gctx, dev) })

	err = g.Wait()
	if err == nil {
		s.setState(StateShuttingDown)
		s.logger.Info("Leaving voice relay")
		if sendErr := s.send(common.NewDisconnect("")); sendErr != nil {
			s.logger.Debugw("Failed to send disconnect", "error", sendErr)
		}
	}
	return err
}

func (s *Session) captureLoop(ctx context.Context, dev Device, chunks chan<- audio.Frames) error {
	for {
		frames, err := dev.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.metrics.ErrorsTotal.Inc()
			return fmt.Errorf("audio capture: %w", err)
		}

		select {
		case chunks <- frames:
		default:
			s.metrics.CaptureDropped.Inc()
		}
	}
}

// sendLoop turns captured chunks into SOUND packets and keeps the session
// alive with HEARTBEAT when nothing else goes out.
func (s *Session) sendLoop(ctx context.Context, chunks <-chan audio.Frames) error {
	heartbeat := s.config.Protocol.HeartbeatInterval()
	keepAlive := time.NewTicker(max(heartbeat/4, 10*time.Millisecond))
	defer keepAlive.Stop()

	var statusC <-chan time.Time
	if interval := s.config.StatusInterval(); interval > 0 {
		status := time.NewTicker(interval)
		defer status.Stop()
		statusC = status.C
	}

	if err := s.send(common.NewStatusRequest()); err != nil {
		return sendLoopErr(err)
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil

		case chunk := <-chunks:
			if s.muted.Load() {
				s.metrics.ChunksMuted.Inc()
				continue
			}
			id := s.packetID.Add(1) - 1
			err = s.send(common.NewSound(id, chunk))

		case <-keepAlive.C:
			if s.now().Sub(time.Unix(0, s.lastSent.Load())) > heartbeat {
				s.metrics.HeartbeatsSent.Inc()
				err = s.send(common.NewHeartbeat())
			}

		case <-statusC:
			err = s.send(common.NewStatusRequest())
		}
		if err != nil {
			return sendLoopErr(err)
		}
	}
}

// sendLoopErr ends the send worker quietly when the socket was closed under it.
func sendLoopErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// receiveLoop dispatches server packets and watches the protocol timeout.
func (s *Session) receiveLoop(ctx context.Context) error {
	timeout := s.config.Protocol.Timeout()
	buffer := make([]byte, common.MaxDatagramSize)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.now().Sub(time.Unix(0, s.lastReceived.Load())) > timeout {
			s.setState(StateTimedOut)
			s.logger.Warnw("Server stopped responding", "timeout", timeout)
			return common.ErrTimeout
		}

		packet, ok, err := s.receive(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !ok {
			continue
		}

		switch packet.Type {
		case common.PacketStatus:
			s.updateUsers(packet.Control())

		case common.PacketDisconnect:
			reason, _ := packet.Control().String(common.KeyDisconnectReason)
			s.setState(StateDisconnectedByPeer)
			s.logger.Warnw("Disconnected by server", "reason", reason)
			return &common.DisconnectError{Reason: reason}

		case common.PacketSound:
			body, _ := packet.Sound()
			s.playback.Push(audio.Fragment{SequenceID: body.SequenceID, Frames: body.Samples})
		}
	}
}

func (s *Session) updateUsers(body common.ControlBody) {
	users, ok := body.Strings(common.KeyConnectedUsers)
	if !ok {
		s.metrics.DecodeErrors.Inc()
		s.logger.Debug("Ignoring STATUS reply without connected_users")
		return
	}
	if old := s.users.Swap(&users); !slices.Equal(*old, users) {
		s.logger.Infow("Connected users", "users", users)
	}
	s.metrics.ConnectedUsers.Set(float64(len(users)))
}

// playbackLoop hands one buffer of received audio to the device every buffer
// period, padding with silence when the server's mixes run late.
func (s *Session) playbackLoop(ctx context.Context, dev Device) error {
	params := s.Params()
	ticker := time.NewTicker(params.BufferDuration())
	defer ticker.Stop()

	var underruns uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := dev.Play(s.supplier.Frames(params.BufferSize)); err != nil {
			s.metrics.ErrorsTotal.Inc()
			return fmt.Errorf("audio playback: %w", err)
		}
		if n := s.supplier.Underruns(); n > underruns {
			s.metrics.PlaybackUnderruns.Add(float64(n - underruns))
			underruns = n
		}
	}
}
