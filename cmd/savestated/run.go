package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deltaemu/savestated/internal/api"
	"github.com/deltaemu/savestated/internal/auth"
	"github.com/deltaemu/savestated/internal/config"
	"github.com/deltaemu/savestated/internal/host"
	"github.com/deltaemu/savestated/internal/identity"
	"github.com/deltaemu/savestated/internal/index"
	"github.com/deltaemu/savestated/internal/maintenance"
	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
	"github.com/deltaemu/savestated/internal/zeroconf"
)

// run wires the daemon together and blocks until SIGINT or SIGTERM.
func run(parent context.Context, cfg config.Config, version string) error {
	if parent == nil {
		parent = context.Background()
	}
	for _, dir := range []string{cfg.DataDir, cfg.PayloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("record store opened", "kind", st.Kind(), "path", st.Path())

	core, err := newCore(cfg)
	if err != nil {
		st.Close()
		return err
	}

	writer := store.NewWriter(st)
	session := host.NewSession(cfg.PayloadDir, core)
	idx := index.New(writer, session)
	go idx.Run(ctx)

	if cfg.ActiveGame != "" {
		game := models.Game{ID: cfg.ActiveGame, Name: cfg.ActiveGame}
		if existing, err := idx.Game(ctx, cfg.ActiveGame); err == nil {
			game = existing
		} else if err := idx.RegisterGame(ctx, game); err != nil {
			slog.Warn("cannot register startup game", "game", cfg.ActiveGame, "err", err)
		}
		session.SetActiveGame(game)
	}

	authSvc, err := auth.NewService(cfg.DataDir)
	if err != nil {
		shutdownIndex(idx, writer, st)
		return fmt.Errorf("auth service: %w", err)
	}
	defer authSvc.Close()

	var backups api.Backups
	if cfg.Backups {
		maint := maintenance.New(cfg.DataDir, cfg.BackupDir, cfg.BackupRetention,
			func(ctx context.Context, fn func() error) error {
				return writer.PerformAndWait(ctx, func(*store.Txn) error { return fn() })
			},
		)
		go maint.Start(ctx)
		backups = maint
	}

	if cfg.Advertise {
		zc := zeroconf.New(identity.Hostname(), cfg.Port(), version, st.Kind())
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	router := api.NewRouter(idx, session, idx, backups, authSvc.Middleware, version)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("savestated listening", "addr", cfg.Addr, "mock", cfg.Mock, "data", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		slog.Error("server error", "err", err)
	}
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	// Queued captures and commits run to completion before the store closes.
	shutdownIndex(idx, writer, st)
	slog.Info("shutdown complete")
	return err
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemStore(), nil
	case config.StoreSQLite:
		return store.OpenSQLiteStore(ctx, cfg.DataDir)
	default:
		js, err := store.OpenJSONStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		if err := js.Watch(); err != nil {
			slog.Warn("cannot watch record file; external edits need a restart", "err", err)
		}
		return js, nil
	}
}

func newCore(cfg config.Config) (host.Core, error) {
	if cfg.Mock {
		slog.Info("using mock emulator core")
		return host.NewMockCore(), nil
	}
	return host.NewExecCore(strings.Fields(cfg.SnapshotCommand), strings.Fields(cfg.RestoreCommand))
}

func shutdownIndex(idx *index.Index, writer *store.Writer, st store.Store) {
	if err := writer.Close(); err != nil {
		slog.Warn("writer close error", "err", err)
	}
	idx.Close()
	if err := st.Close(); err != nil {
		slog.Warn("store close error", "err", err)
	}
}
