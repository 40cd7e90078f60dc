package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iselt/voice-relay/common"
)

// readPollInterval bounds how long a socket read blocks before the ingress
// loop checks for cancellation.
const readPollInterval = 250 * time.Millisecond

// Server is the UDP voice relay
type Server struct {
	Config   common.ServerConfig
	Registry *Registry
	Metrics  *Metrics
	ConnLog  *ConnLog

	conn      *net.UDPConn
	codec     common.Codec
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	sugar     *zap.SugaredLogger
	startedAt time.Time

	// mixSeq is touched only by the mixing goroutine.
	mixSeq uint32

	closeOnce sync.Once
	closeErr  error
}

// New binds the UDP socket and opens the connection log. The server does
// nothing until Run.
func New(config common.ServerConfig, logger *zap.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	connLog, err := OpenConnLog(config.APIServer.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveUDPAddr("udp", config.ListenAddr)
	if err != nil {
		connLog.Close()
		return nil, fmt.Errorf("failed to resolve listen address %s: %w", config.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		connLog.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", config.ListenAddr, err)
	}

	s := &Server{
		Config:    config,
		Registry:  NewRegistry(config.Sound, config.MaxQueuedFragments, config.MaxPacketsPerSecond),
		Metrics:   NewMetrics(reg),
		ConnLog:   connLog,
		conn:      conn,
		codec:     common.NewCodec(config.Sound),
		gatherer:  reg,
		logger:    logger,
		sugar:     logger.Sugar(),
		startedAt: time.Now(),
	}

	s.sugar.Infow("Voice relay server initialized",
		"listen_addr", conn.LocalAddr().String(),
		"sample_rate", config.Sound.SampleRate,
		"channels", config.Sound.Channels,
		"word_type", config.Sound.WordType,
		"buffer_size", config.Sound.BufferSize,
		"mix_interval", config.MixInterval(),
		"timeout", config.Protocol.Timeout(),
	)
	return s, nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run serves until ctx is cancelled or a worker fails, then tells every
// client the server is going away.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.mixLoop(gctx) })
	g.Go(func() error { return s.maintenanceLoop(gctx) })

	if s.Config.APIServer.ListenAddr != "" {
		api := NewAPIServer(s)
		g.Go(func() error { return api.Serve(gctx) })
	}
	if s.Config.Metrics.Enabled {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}

	s.sugar.Infow("Voice relay server listening", "addr", s.Addr().String())
	err := g.Wait()
	s.broadcastShutdown()
	return err
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.MetricsHandler())
	srv := &http.Server{Addr: s.Config.Metrics.ListenAddr, Handler: mux}
	return serveHTTP(ctx, srv, s.sugar.Named("metrics"))
}

// MetricsHandler exposes the server's private prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// serveHTTP runs srv until ctx is done.
func serveHTTP(ctx context.Context, srv *http.Server, logger *zap.SugaredLogger) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Infow("Starting HTTP server", "addr", srv.Addr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// send encodes and writes one packet. Failures are logged and counted.
func (s *Server) send(out Outbound) {
	b, err := s.codec.Encode(out.Packet)
	if err != nil {
		s.Metrics.RecordError("encode")
		s.sugar.Warnw("Failed to encode packet", "type", out.Packet.Type.String(), "addr", out.Addr.String(), "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(b, out.Addr); err != nil {
		s.Metrics.RecordError("write")
		s.sugar.Debugw("Failed to send packet", "type", out.Packet.Type.String(), "addr", out.Addr.String(), "error", err)
		return
	}
	s.Metrics.RecordSent(out.Packet.Type.String(), len(b))
}

func (s *Server) sendAll(out []Outbound) {
	for _, o := range out {
		s.send(o)
	}
}

// Kick removes a client and tells it why. It reports whether the id existed.
func (s *Server) Kick(id string) bool {
	info, out, ok := s.Registry.Kick(id)
	if !ok {
		return false
	}
	s.send(out)
	s.Metrics.Kicks.Inc()
	s.clientRemoved(info, EventKicked, ReasonKicked)
	return true
}

func (s *Server) clientRemoved(info ClientInfo, event, details string) {
	s.Metrics.RecordDisconnection(time.Since(info.ConnectedAt).Seconds())
	s.ConnLog.Record(info, event, details)
	s.sugar.Infow("Client removed",
		"client_id", info.ID,
		"display_name", info.DisplayName,
		"addr", info.Address,
		"event", event,
	)
}

// Close releases the socket and the connection log.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.sugar.Info("Closing voice relay server...")
		s.closeErr = multierr.Combine(
			s.conn.Close(),
			s.ConnLog.Close(),
		)
	})
	return s.closeErr
}
