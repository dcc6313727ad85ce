package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/planning-poker/internal/config"
	"github.com/DoyleJ11/planning-poker/internal/httpapi"
	"github.com/DoyleJ11/planning-poker/internal/hub"
	"github.com/DoyleJ11/planning-poker/internal/logging"
	"github.com/DoyleJ11/planning-poker/internal/session"
	"github.com/DoyleJ11/planning-poker/internal/ws"
)

const releaseVersion = "1.0.0"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		cobra.CheckErr(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	cmd := config.NewCommand(cfg, releaseVersion, run)
	cobra.CheckErr(cmd.ExecuteContext(ctx))
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.DevLogging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	return serve(cmd.Context(), cfg, log, ln)
}

// serve runs the server on ln until ctx is cancelled, then drains.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, ln net.Listener) error {
	// Room registry lives for the process; rooms are never persisted.
	h := hub.NewHub(context.Background(), log.Named("hub"))
	sessions := session.NewTable()
	wsServer := ws.NewServer(h, sessions, log.Named("ws"), ws.Options{
		OutboxSize:     cfg.OutboxSize,
		ReadLimit:      cfg.ReadLimit,
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		OriginPatterns: cfg.OriginPatterns,
	})

	srv := &http.Server{
		Handler:           httpapi.SetupRoutes(h, wsServer, log.Named("http"), releaseVersion),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("version", releaseVersion))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Duration("grace", cfg.ShutdownTimeout))

		graceCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// stop accepting; plain HTTP requests finish
		err := srv.Shutdown(graceCtx)

		// closing every outbox makes each websocket writer close its connection
		h.Shutdown()
		// connections that never joined a room have no outbox owner
		wsServer.Close()
		if werr := wsServer.Wait(graceCtx); werr != nil {
			log.Warn("grace period elapsed, forcing close", zap.Int("sessions", sessions.Len()))
			wsServer.Abort()
			err = errors.Join(err, srv.Close())
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.Info("stopped")
	return nil
}
