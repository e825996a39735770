package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/healthassistant/backend/internal/handler"
	"github.com/healthassistant/backend/internal/handler/session"
	"github.com/healthassistant/backend/internal/service/ai"
	"github.com/healthassistant/backend/internal/service/assistant"
	"github.com/healthassistant/backend/internal/service/chat"
	"github.com/healthassistant/backend/internal/service/memory"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close chat store")
		}
	}()

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return err
	}
	aiSvc, err := ai.NewService(ctx, chatModel, ai.Options{
		MaxRetries:   cfg.AI.MaxRetries,
		RetryBackoff: cfg.AI.RetryBackoff,
		Timeout:      cfg.AI.Timeout,
	})
	if err != nil {
		return err
	}
	log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")

	mem := memory.New(memory.Options{
		MaxTurns: cfg.Session.MaxTurns,
		IdleTTL:  cfg.Session.IdleTTL,
	})
	chatSvc := chat.NewService(store, assistant.NewService(aiSvc, mem))
	router := handler.NewRouter(chatSvc, session.NewResolver(cfg.Session.CookieName))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mem.Run(gctx, cfg.Session.SweepInterval)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Driver).Msg("health assistant listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
