package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/iselt/voice-relay/common"
)

// receiveLoop reads datagrams until ctx is cancelled or the socket closes.
func (s *Server) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, common.MaxDatagramSize+1)

	s.sugar.Debug("Starting ingress loop")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if common.IsNetworkTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				s.sugar.Debug("Socket closed, stopping ingress loop")
				return nil
			}
			// ICMP port unreachable from a vanished client surfaces here on
			// some platforms. It concerns one peer only.
			s.Metrics.RecordError("read")
			s.sugar.Debugw("Error reading from socket", "error", err)
			continue
		}

		s.handleDatagram(addr, buffer[:n])
	}
}

// handleDatagram decodes one datagram, applies it to the registry and sends
// the replies once the registry lock is released.
func (s *Server) handleDatagram(addr *net.UDPAddr, data []byte) {
	packet, err := s.codec.Decode(data)
	if err != nil {
		s.Metrics.RecordDrop(DropDecode)
		s.sugar.Debugw("Discarding undecodable datagram", "addr", addr.String(), "size", len(data), "error", err)
		return
	}
	s.Metrics.RecordReceived(packet.Type.String(), len(data))

	res := s.Registry.Dispatch(addr, packet, len(data))

	if res.Drop != "" {
		s.Metrics.RecordDrop(res.Drop)
		s.sugar.Debugw("Dropped packet", "type", packet.Type.String(), "addr", addr.String(), "reason", res.Drop)
	}
	if res.Joined {
		s.Metrics.RecordConnection()
		s.ConnLog.Record(res.Client, EventConnected, "")
		s.sugar.Infow("Client connected",
			"client_id", res.Client.ID,
			"display_name", res.Client.DisplayName,
			"addr", res.Client.Address,
		)
	}
	if res.Left {
		s.clientRemoved(res.Client, EventDisconnected, "")
	}

	s.sendAll(res.Replies)
}
