package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/voice_server/internal/server"
)

func main() {
	configFile := flag.String("c", "config.server.toml", "Config file path")
	flag.Parse()

	cfg, cfgErr := common.LoadServerConfig(*configFile)

	logger, err := common.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if cfgErr != nil {
		sugar.Fatalf("Invalid configuration: %v", cfgErr)
	}

	if os.Getenv("PERF_PROFILE") != "" {
		f, _ := os.OpenFile("cpu.pprof", os.O_CREATE|os.O_RDWR, 0666)
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		sugar.Fatalf("Failed to initialize server: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		sugar.Errorw("Server stopped with error", "error", err)
		srv.Close()
		logger.Sync()
		os.Exit(1)
	}
	sugar.Info("Voice relay server exited.")
}
