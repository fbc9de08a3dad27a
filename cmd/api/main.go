package main

import (
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "tavern",
		Short:         "Branching roleplay chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file
			envErr := godotenv.Load()

			loaded, err := config.Load()
			if err != nil {
				return err
			}
			initLogger(loaded.Log)
			if envErr != nil {
				log.Debug().Err(envErr).Msg("no .env file, using system environment only")
			}
			cfg = loaded
			return nil
		},
	}

	serve := newServeCommand(func() *config.Config { return cfg })
	root.AddCommand(serve)
	root.AddCommand(newCharactersCommand(func() *config.Config { return cfg }))
	root.RunE = serve.RunE
	return root
}

// initLogger configures the global zerolog writer and level.
func initLogger(cfg config.LogConfig) {
	var writer io.Writer = os.Stderr
	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = log.Output(writer)

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
