package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/voice_client/internal/client"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("c", "config.client.toml", "Config file path")
	flag.Parse()

	cfg, cfgErr := common.LoadClientConfig(*configFile)

	logger, err := common.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return common.ExitError
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if cfgErr != nil {
		sugar.Errorf("Invalid configuration: %v", cfgErr)
		return common.ExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := client.NewMetrics(reg)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr, reg, sugar)
	}

	session, err := client.NewSession(cfg, logger, metrics)
	if err != nil {
		sugar.Errorf("Failed to create session: %v", err)
		return common.ExitError
	}
	defer session.Close()

	sugar.Infow("Connecting to voice relay", "server_addr", cfg.ServerAddr, "display_name", cfg.DisplayName)
	if err := session.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return common.ExitOK
		}
		sugar.Errorw("Handshake failed", "error", err)
		return common.ExitCode(err)
	}

	dev, err := client.NewDevice(cfg.Device, session.Params())
	if err != nil {
		sugar.Errorf("Failed to open audio device: %v", err)
		return common.ExitError
	}

	err = session.Run(ctx, dev)
	switch code := common.ExitCode(err); code {
	case common.ExitOK:
		sugar.Info("Voice client exited.")
		return code
	default:
		sugar.Errorw("Voice client stopped", "error", err, "exit_code", code)
		return code
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, sugar *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	sugar.Infof("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		sugar.Errorf("Failed to start metrics server: %v", err)
	}
}
