package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/gateway"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/ai"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

func newServeCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	backend, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	// A corrupt table is fatal: starting empty would overwrite it on the next save.
	loadedCharacters, err := backend.LoadCharacters(ctx)
	if err != nil {
		return errors.Wrap(err, "load characters")
	}
	loadedSessions, err := backend.LoadSessions(ctx)
	if err != nil {
		return errors.Wrap(err, "load sessions")
	}
	log.Info().Int("characters", len(loadedCharacters)).Int("sessions", len(loadedSessions)).Msg("storage loaded")

	characters := character.NewMemoryStore(loadedCharacters, backend)
	sessions := chat.NewService(loadedSessions, backend)
	m := metrics.New()

	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		return errors.Wrap(err, "failed to initialize AI service")
	}
	log.Info().Str("provider", cfg.AI.Provider).Msg("AI service initialized")

	hub := gateway.NewHub()
	engine := conversation.New(conversation.Options{
		Sessions:   sessions,
		Characters: characters,
		Runner:     stream.NewAccumulator(aiService, stream.WithInterval(cfg.Chat.StreamInterval)),
		Presenter:  hub,
		Metrics:    m,
		Timeout:    cfg.Chat.InteractionTimeout,
	})
	defer engine.Close()

	substitutes := conversation.NameSubstitutes(cfg.Chat.NameSubstitutes)
	router := handler.NewRouter(handler.Deps{
		Characters:  characters,
		Sessions:    sessions,
		Engine:      engine,
		Hub:         hub,
		WebSocket:   gateway.NewWebSocketHandler(ctx, hub, engine, substitutes),
		Metrics:     m,
		Substitutes: substitutes,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("tavern listening")
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
		return errors.Wrap(err, "server error")
	}
	log.Info().Msg("server stopped")
	return nil
}
