package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cyphr/internal/config"
	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/repository/session"
	"cyphr/internal/service/app"
	"cyphr/internal/service/client"
	"cyphr/internal/state"
	"cyphr/internal/utils/log"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

type flags struct {
	local bool
}

func newRootCommand() *cobra.Command {
	cfg := config.Load()
	var f flags

	cmd := &cobra.Command{
		Use:   "client",
		Short: "cyphr terminal chat",
		Long: `A terminal chat client. Conversations are chains of encrypted messages
in a graph shared through a relay; the relay sees neither who talks to whom
nor what is said. Type /help once started.`,
		Example: `  # Connect to the relay from the environment
  client

  # Use another relay and data directory
  client --relay ws://chat.example.org:9090/sync --data-dir ~/.cyphr

  # Keep everything on this machine
  client --local`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, f)
		},
	}

	cmd.Flags().StringVarP(&cfg.RelayURL, "relay", "r", cfg.RelayURL, "relay sync endpoint")
	cmd.Flags().StringVarP(&cfg.DataDir, "data-dir", "d", cfg.DataDir, "directory for local data and logs")
	cmd.Flags().BoolVar(&f.local, "local", false, "use a local graph instead of a relay")
	cmd.Flags().DurationVar(&cfg.ExpiryAge, "expiry", cfg.ExpiryAge, "age after which messages may be expired")
	cmd.Flags().DurationVar(&cfg.ExpirySweep, "expiry-sweep", cfg.ExpirySweep, "how often to expire messages, 0 to disable")
	cmd.Flags().BoolVar(&cfg.RequireKnownMembers, "require-known-members", cfg.RequireKnownMembers, "ignore group invites without a known member")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	cmd.Flags().BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, f flags) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	// the terminal belongs to the UI
	if err := log.Init(cfg.LogLevel, cfg.Dev, filepath.Join(cfg.DataDir, "client.log")); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	db, err := bolt.Open(filepath.Join(cfg.DataDir, "cyphr.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open local database: %w", err)
	}
	defer db.Close()

	keeper, err := session.NewSessionRepo(db)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, f, db)
	if err != nil {
		return err
	}
	defer closeStore()

	c := client.New(store, provider.New(), keeper, client.Options{
		Policy:      state.Policy{RequireKnownMembers: cfg.RequireKnownMembers},
		ExpiryAge:   cfg.ExpiryAge,
		ExpirySweep: cfg.ExpirySweep,
	})
	c.Start(ctx)
	defer c.Close()

	if err := c.Recall(ctx); err != nil {
		log.Debug("no session to recall", zap.Error(err))
	}

	return app.NewApp(c).Run(ctx)
}

func openStore(ctx context.Context, cfg *config.Config, f flags, db *bolt.DB) (graph.Store, func() error, error) {
	if f.local {
		b, err := graph.NewBolt(db)
		if err != nil {
			return nil, nil, err
		}
		return b, func() error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	r, err := graph.Dial(dialCtx, cfg.RelayURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to relay", zap.String("url", cfg.RelayURL))
	return r, r.Close, nil
}
