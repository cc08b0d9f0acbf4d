package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// envConfig carries defaults from the environment; flags override them.
type envConfig struct {
	BridgeURL string `env:"OBSIDION_BRIDGE_URL"`
	Origin    string `env:"OBSIDION_ORIGIN"`
	Session   string `env:"OBSIDION_SESSION"`
}

var (
	bridgeURL   string
	origin      string
	sessionFile string
	resume      bool
	verbose     bool
)

func Execute() error {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return err
	}
	if cfg.Origin == "" {
		cfg.Origin = "https://localhost"
	}

	root := &cobra.Command{
		Use:   "obsidion",
		Short: "End-to-end encrypted bridge chat",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVar(&bridgeURL, "bridge", cfg.BridgeURL, "relay URL (default wss://bridge.zkpassport.id)")
	root.PersistentFlags().StringVar(&sessionFile, "session", cfg.Session, "file to persist session keys for --resume")
	root.PersistentFlags().BoolVar(&resume, "resume", false, "resume the session saved in --session")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	create := createCmd()
	create.Flags().StringVar(&origin, "origin", cfg.Origin, "declared origin encoded into the connection string")

	root.AddCommand(create, joinCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}
