package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keizars/keizar-go/internal/config"
	"github.com/keizars/keizar-go/internal/obslog"
	"github.com/keizars/keizar-go/internal/room"
	"github.com/keizars/keizar-go/internal/store/redisstore"
	wstransport "github.com/keizars/keizar-go/internal/transport/ws"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.Addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, ln, obslog.L()); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		os.Exit(1)
	}
}

// run serves on ln until ctx is done, then stops accepting, closes every room and flushes the store.
func run(ctx context.Context, cfg *config.AppConfig, ln net.Listener, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	mgr := room.NewManager(room.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		DyingThreshold:    cfg.DyingHeartbeatThreshold,
		WriteTimeout:      cfg.WriteTimeout,
		HistoryLimit:      cfg.UndoHistoryLimit,
		Store:             store,
		Logger:            logger,
	}, cfg.MaxRooms)

	restored, err := mgr.RestoreAll(ctx)
	if err != nil {
		logger.Warn("room_restore_error", zap.Error(err))
	}
	logger.Info("rooms_restored", zap.Int("count", restored))

	srv := &http.Server{
		Handler: wstransport.NewServer(wstransport.Config{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}, mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info("server_listening", zap.String("addr", ln.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if err := mgr.Shutdown(sctx); err != nil {
		logger.Warn("room_shutdown_error", zap.Error(err))
	}
	logger.Info("server_stopped")
	return runErr
}

func openStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (room.Store, error) {
	if cfg.RedisURL == "" {
		logger.Info("store_memory")
		return room.NewMemoryStore(), nil
	}
	octx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := redisstore.Open(octx, cfg.RedisURL, cfg.RoomTTL)
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	logger.Info("store_redis", zap.Duration("ttl", cfg.RoomTTL))
	return s, nil
}
