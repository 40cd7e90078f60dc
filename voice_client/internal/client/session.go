package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/common/audio"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
	StateTimedOut
	StateDisconnectedByPeer
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateTimedOut:
		return "timed_out"
	case StateDisconnectedByPeer:
		return "disconnected_by_peer"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// pollInterval bounds a single blocking socket read.
const pollInterval = 100 * time.Millisecond

// negotiated is what the server's HANDSHAKE reply fixed for the session.
type negotiated struct {
	params common.SessionParams
	codec  common.Codec
}

// Session is one client's connection to the relay server.
type Session struct {
	config  common.ClientConfig
	conn    *net.UDPConn
	logger  *zap.SugaredLogger
	metrics *Metrics

	state      atomic.Int32
	muted      atomic.Bool
	negotiated atomic.Pointer[negotiated]
	users      atomic.Pointer[[]string]

	// Written by the send worker only.
	packetID atomic.Uint32
	lastSent atomic.Int64
	// Written by the receive worker only.
	lastReceived atomic.Int64

	playback *audio.SequenceQueue
	supplier *audio.FrameSupplier

	now func() time.Time
}

// NewSession dials the server. No packet is sent until Connect.
func NewSession(config common.ClientConfig, logger *zap.Logger, metrics *Metrics) (*Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", config.ServerAddr)
	if err != nil {
		return nil, common.NewSessionError(common.KindNetwork, "failed to resolve server address", err).
			WithContext("server_addr", config.ServerAddr)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, common.NewSessionError(common.KindNetwork, "failed to dial server", err).
			WithContext("server_addr", config.ServerAddr)
	}

	s := &Session{
		config:   config,
		conn:     conn,
		logger:   logger.Sugar().With("server_addr", config.ServerAddr),
		metrics:  metrics,
		playback: audio.NewSequenceQueue(audio.QueueOptions{Capacity: common.DefaultMaxQueuedFragments}),
		now:      time.Now,
	}
	s.muted.Store(config.Muted)
	s.users.Store(&[]string{})
	s.adopt(config.Sound)
	return s, nil
}

func (s *Session) adopt(params common.SessionParams) {
	s.negotiated.Store(&negotiated{params: params, codec: common.NewCodec(params)})
	s.supplier = audio.NewFrameSupplier(s.playback, params.Channels)
}

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.logger.Debugw("Session state changed", "state", st.String())
	}
	if st == StateConnected {
		s.metrics.ConnectionStatus.Set(1)
	} else {
		s.metrics.ConnectionStatus.Set(0)
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

// Params returns the session parameters: the server's after a successful
// handshake, the local defaults before.
func (s *Session) Params() common.SessionParams { return s.negotiated.Load().params }

func (s *Session) codec() common.Codec { return s.negotiated.Load().codec }

func (s *Session) SetMuted(muted bool) {
	if s.muted.Swap(muted) != muted {
		s.logger.Infow("Microphone mute changed", "muted", muted)
	}
}

func (s *Session) Muted() bool { return s.muted.Load() }

// ConnectedUsers returns the user list from the latest STATUS reply.
func (s *Session) ConnectedUsers() []string { return slices.Clone(*s.users.Load()) }

// LocalAddr returns the client's UDP address.
func (s *Session) LocalAddr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

// Handshake announces the display name and waits for the server's session
// parameters. It fails with ErrTimeout when no reply arrives within the
// protocol timeout and with ErrWrongPacket when another packet type arrives
// first.
func (s *Session) Handshake(ctx context.Context) error {
	s.setState(StateHandshaking)
	if err := s.send(common.NewHandshakeRequest(s.config.DisplayName)); err != nil {
		s.setState(StateDisconnected)
		return err
	}

	deadline := s.now().Add(s.config.Protocol.Timeout())
	buffer := make([]byte, common.MaxDatagramSize)
	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateDisconnected)
			return err
		}
		if !s.now().Before(deadline) {
			s.setState(StateTimedOut)
			return fmt.Errorf("handshake with %s: %w", s.config.ServerAddr, common.ErrTimeout)
		}

		n, ok, err := s.read(buffer)
		if err != nil {
			s.setState(StateDisconnected)
			return err
		}
		if !ok {
			continue
		}
		if t, known := headerType(buffer[:n]); known && t != common.PacketHandshake {
			s.lastReceived.Store(s.now().UnixNano())
			s.setState(StateDisconnected)
			return fmt.Errorf("%w: received %s", common.ErrWrongPacket, t)
		}
		packet, ok := s.decode(buffer[:n])
		if !ok {
			continue
		}

		params, err := common.SessionParamsFromBody(packet.Control())
		if err != nil {
			s.metrics.DecodeErrors.Inc()
			s.logger.Debugw("Ignoring malformed handshake reply", "error", err)
			continue
		}

		s.adopt(params)
		s.setState(StateConnected)
		s.logger.Infow("Connected to voice relay",
			"sample_rate", params.SampleRate,
			"channels", params.Channels,
			"word_type", params.WordType,
			"buffer_size", params.BufferSize,
		)
		return nil
	}
}

// Connect runs Handshake, retrying when an unexpected packet interrupts it.
func (s *Session) Connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := s.Handshake(ctx)
		if err == nil {
			return nil
		}
		if common.GetRecoveryStrategy(err) != common.RecoveryRetryHandshake || attempt >= s.config.HandshakeRetries {
			s.metrics.ErrorsTotal.Inc()
			return common.NewSessionError(common.KindSession, "handshake failed", err).
				WithContext("server_addr", s.config.ServerAddr).
				WithContext("attempts", strconv.Itoa(attempt))
		}
		s.logger.Warnw("Handshake interrupted, retrying", "attempt", attempt, "error", err)
	}
}

// send encodes and writes one packet. Only a closed socket is an error:
// transient write failures are logged and the packet is lost like any other
// datagram.
func (s *Session) send(packet common.Packet) error {
	b, err := s.codec().Encode(packet)
	if err != nil {
		s.metrics.ErrorsTotal.Inc()
		s.logger.Warnw("Failed to encode packet", "type", packet.Type.String(), "error", err)
		return nil
	}
	if _, err := s.conn.Write(b); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		s.metrics.ErrorsTotal.Inc()
		s.logger.Debugw("Failed to send packet", "type", packet.Type.String(), "error", err)
		return nil
	}

	s.lastSent.Store(s.now().UnixNano())
	s.metrics.PacketsSent.WithLabelValues(packet.Type.String()).Inc()
	s.metrics.BytesSent.Add(float64(len(b)))
	return nil
}

// receive waits up to pollInterval for one decodable packet. ok is false when
// nothing usable arrived. Only a closed socket is an error.
func (s *Session) receive(buffer []byte) (packet common.Packet, ok bool, err error) {
	n, ok, err := s.read(buffer)
	if !ok {
		return common.Packet{}, false, err
	}
	packet, ok = s.decode(buffer[:n])
	return packet, ok, nil
}

// read waits up to pollInterval for one datagram.
func (s *Session) read(buffer []byte) (n int, ok bool, err error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, false, err
	}
	n, err = s.conn.Read(buffer)
	if err != nil {
		switch {
		case common.IsNetworkTimeout(err):
		case errors.Is(err, net.ErrClosed):
			return 0, false, err
		default:
			// Connection refused from an ICMP error: the server may come back.
			s.logger.Debugw("Error reading from socket", "error", err)
		}
		return 0, false, nil
	}
	return n, true, nil
}

func (s *Session) decode(datagram []byte) (common.Packet, bool) {
	packet, err := s.codec().Decode(datagram)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.logger.Debugw("Discarding undecodable datagram", "size", len(datagram), "error", err)
		return common.Packet{}, false
	}

	s.lastReceived.Store(s.now().UnixNano())
	s.metrics.PacketsReceived.WithLabelValues(packet.Type.String()).Inc()
	s.metrics.BytesReceived.Add(float64(len(datagram)))
	return packet, true
}

// headerType returns the packet type of a datagram without decoding its
// body, which may be shaped for parameters not negotiated yet.
func headerType(datagram []byte) (common.PacketType, bool) {
	if len(datagram) < common.HeaderLen || datagram[0] != common.ProtocolMagicNumber {
		return 0, false
	}
	t := common.PacketType(datagram[1])
	return t, t.Known()
}

// Close releases the socket.
func (s *Session) Close() error {
	return s.conn.Close()
}
