package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/matchmaking-server/internal/auth"
	"github.com/DoyleJ11/matchmaking-server/internal/config"
	"github.com/DoyleJ11/matchmaking-server/internal/events"
	"github.com/DoyleJ11/matchmaking-server/internal/httpapi"
	"github.com/DoyleJ11/matchmaking-server/internal/hub"
	"github.com/DoyleJ11/matchmaking-server/internal/lobby"
	"github.com/DoyleJ11/matchmaking-server/internal/store"
	"github.com/DoyleJ11/matchmaking-server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(serve())
}

// serve returns the process exit code. The logger is flushed before it
// returns.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development() {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			err = multierr.Append(err, c.Close())
		}
	}()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		closers = append(closers, pg)
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemory()
		logger.Warn("DATABASE_URL not set, games are kept in memory")
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return err
		}
		closers = append(closers, nc)
		pub = nc
		logger.Info("publishing game events", zap.String("nats_url", cfg.NATSURL))
	}

	lb := lobby.NewLobby(ctx)
	h := hub.NewHub(cfg.RatingMatch, hub.Deps{
		Store:     st,
		Transport: lb,
		Events:    pub,
		Logger:    logger,
	})

	sched, err := h.StartSweeper(ctx, cfg.SweepInterval, cfg.RoomTTL)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sched.Shutdown()) }()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(ws.Deps{
			Hub:   h,
			Lobby: lb,
			Auth: ws.Authenticator{
				Verifier:      auth.NewVerifier(cfg.JWTSecret),
				Store:         st,
				DefaultRating: cfg.DefaultRating,
			},
			Logger:             logger,
			InsecureSkipVerify: cfg.Development(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
