package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cyphr/internal/config"
	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/repository/node"
	redisSvc "cyphr/internal/service/redis"
	"cyphr/internal/service/server"
	"cyphr/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "cyphr relay",
		Long: `The relay serves the shared graph to cyphr clients over a websocket.
Nodes are stored in MongoDB and writes are fanned out to every relay
instance through Redis, so clients may connect to any of them.`,
		Example: `  # Start with settings from .env and the environment
  server

  # Listen elsewhere with debug logging
  server --listen :8080 --log-level debug`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "address to serve HTTP on")
	cmd.Flags().StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection string")
	cmd.Flags().StringVar(&cfg.MongoDB, "mongo-db", cfg.MongoDB, "MongoDB database")
	cmd.Flags().StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	cmd.Flags().IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database")
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

func run(ctx context.Context, cfg *config.Config) error {
	if err := log.Init(cfg.LogLevel, cfg.Dev); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.MongoDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	bus := redisSvc.NewRedis(rdb)
	if err := bus.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	cluster := server.NewCluster(node.NewNodeRepo(db), bus)
	go func() {
		if err := cluster.Listen(ctx); err != nil && ctx.Err() == nil {
			log.Error("cluster listener stopped", zap.Error(err))
		}
	}()

	s := server.NewHttpServer(cluster, provider.New(), server.NewMetrics())
	return s.Run(ctx, cfg.ListenAddr)
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
