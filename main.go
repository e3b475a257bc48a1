package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/broadcast"
	"github.com/wfunc/gridchase/config"
	"github.com/wfunc/gridchase/coordinator"
	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/monitor"
	"github.com/wfunc/gridchase/persistence"
	"github.com/wfunc/gridchase/room"
	"github.com/wfunc/gridchase/rpc"
	"github.com/wfunc/gridchase/sanitize"
	"github.com/wfunc/gridchase/server"
	"github.com/wfunc/gridchase/session"
	"github.com/wfunc/gridchase/timer"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	catalog, err := board.LoadCatalog(cfg.Boards.Dir)
	if err != nil {
		logger.Log.Fatalf("Failed to load boards: %v", err)
	}

	db, err := persistence.NewDatabase(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	mon := monitor.NewMonitor("gridchase", prometheus.DefaultRegisterer)
	mon.PublishExpvars()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sessions := session.NewManager()
	hub := broadcast.NewRoomBroadcaster(sessions)
	registry := room.NewRegistry(catalog, hub, rng, cfg.Game.MaxCodeAttempts)
	coord := coordinator.New(catalog, registry, hub, mon, db, coordinator.Options{
		MoveInterval:    cfg.Game.MoveInterval,
		ChatInterval:    cfg.Game.ChatInterval,
		RoomIdleTimeout: cfg.Game.RoomIdleTimeout,
		Sanitize:        sanitize.Text,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	timers := timer.NewTimerManager(time.Second)
	defer timers.Stop()
	if cfg.Game.ReapInterval > 0 {
		coord.ScheduleReaping(timers, cfg.Game.ReapInterval)
	}

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	if err := rpcServer.Register(rpc.NewAdminService(coord, db)); err != nil {
		logger.Log.Fatalf("Failed to register admin service: %v", err)
	}
	go rpcServer.Start()
	defer rpcServer.Stop()

	healthServer, err := rpc.NewHealthServer(cfg.Server.HealthAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create health server: %v", err)
	}
	go healthServer.Start()
	defer healthServer.Stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	gameServer := server.NewGameServer(addr, cfg.Server.StaticDir, catalog, sessions, coord, prometheus.DefaultGatherer)
	if cfg.Game.ReapInterval > 0 && cfg.Server.SessionTimeout > 0 {
		gameServer.ScheduleIdleSweep(timers, cfg.Game.ReapInterval, cfg.Server.SessionTimeout)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gameServer.Start()
	}()
	healthServer.SetServing(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Log.Infof("Received %s, shutting down", s)
	case err := <-errCh:
		if err != nil {
			logger.Log.Errorf("Game server failed: %v", err)
		}
	}

	healthServer.SetServing(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Game server shutdown: %v", err)
	}
}
