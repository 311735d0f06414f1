// Command replicored starts one workspace's replication core against a
// chosen persistence and transport backend, ensures its root thought
// exists, and blocks until interrupted. It is a thin demonstration
// harness, not a production daemon — a real host embeds internal/engine
// directly and supplies its own Dispatcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/thoughtkeep/em-sync/internal/dispatch"
	"github.com/thoughtkeep/em-sync/internal/engine"
	"github.com/thoughtkeep/em-sync/internal/entity"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "replicored",
		Short: "Run one workspace's replication core standalone",
		Long: `replicored wires internal/engine to a chosen persistence and
transport backend, makes sure the workspace's root thought exists, and
stays up to keep replicating until interrupted.`,
		RunE: run,
	}

	rootCmd.Flags().String("workspace", "", "workspace name (required)")
	rootCmd.Flags().String("persistence", "memory", "persistence backend: memory, file, redis, mongo, sqlite")
	rootCmd.Flags().String("transport", "memory", "transport backend: memory, redis, libp2p")
	rootCmd.Flags().Int("concurrency", 0, "replication TaskQueue concurrency (0 = default)")
	rootCmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")

	rootCmd.Flags().String("data-dir", "./replicored-data", "base directory for the file/sqlite backends")
	rootCmd.Flags().String("redis-addr", "localhost:6379", "redis address for the redis persistence/transport backends")
	rootCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "mongo connection URI for the mongo persistence backend")
	rootCmd.Flags().String("mongo-db", "replicored", "mongo database name for the mongo persistence backend")
	rootCmd.Flags().String("libp2p-listen", "/ip4/0.0.0.0/tcp/0", "listen multiaddr for the libp2p transport backend")

	_ = rootCmd.MarkFlagRequired("workspace")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	workspace, _ := cmd.Flags().GetString("workspace")
	persistenceKind, _ := cmd.Flags().GetString("persistence")
	transportKind, _ := cmd.Flags().GetString("transport")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	logLevel, _ := cmd.Flags().GetString("log-level")

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	setLogLevel(log, logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cmd, persistenceKind)
	if err != nil {
		return fmt.Errorf("replicored: persistence backend %q: %w", persistenceKind, err)
	}

	tf, err := openTransport(ctx, cmd, transportKind)
	if err != nil {
		return fmt.Errorf("replicored: transport backend %q: %w", transportKind, err)
	}

	dispatcher := loggingDispatcher{log: log}
	eng, err := engine.New(ctx, engine.Options{Workspace: workspace, Concurrency: concurrency}, engine.Dependencies{
		ThoughtStore: store,
		LexemeStore:  store,
		DocLogStore:  store,
		Transport:    tf,
		Dispatcher:   dispatcher,
		Log:          log,
	})
	if err != nil {
		return fmt.Errorf("replicored: start engine: %w", err)
	}
	defer eng.Close()

	root := entity.Thought{ID: entity.HomeToken, Value: "workspace root"}
	<-eng.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: entity.HomeToken, Thought: &root}}, nil, "")

	select {
	case <-eng.RootSyncedCh():
		log.WithFields(logrus.Fields{"workspace": workspace, "root": eng.RootValue()}).Info("root thought synced")
	case <-time.After(10 * time.Second):
		return fmt.Errorf("replicored: root thought never synced")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("received shutdown signal")
	cancel()
	return nil
}

func setLogLevel(log *logrus.Logger, level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
}

func openStore(cmd *cobra.Command, kind string) (persistence.Store, error) {
	switch kind {
	case "memory":
		return persistence.NewMemoryStore(), nil
	case "file":
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return persistence.NewFileStore(dataDir)
	case "sqlite":
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return persistence.NewSQLStore(dataDir + "/replicored.db")
	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		client := redis.NewClient(&redis.Options{Addr: addr})
		return persistence.NewRedisStore(client, "replicored"), nil
	case "mongo":
		uri, _ := cmd.Flags().GetString("mongo-uri")
		dbName, _ := cmd.Flags().GetString("mongo-db")
		client, err := mongo.Connect(context.Background(), mongooptions.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		collection := client.Database(dbName).Collection("documents")
		return persistence.NewMongoStore(collection), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", kind)
	}
}

func openTransport(ctx context.Context, cmd *cobra.Command, kind string) (transport.Factory, error) {
	switch kind {
	case "memory":
		return transport.NewMemoryBus().Open, nil
	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		client := redis.NewClient(&redis.Options{Addr: addr})
		return transport.NewRedisBus(client, "replicored").Open, nil
	case "libp2p":
		listenAddr, _ := cmd.Flags().GetString("libp2p-listen")
		bus, err := transport.NewLibP2PBus(ctx, listenAddr)
		if err != nil {
			return nil, err
		}
		return bus.Open, nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", kind)
	}
}

// loggingDispatcher is the reference Dispatcher for standalone runs:
// state updates and alerts are logged, not fed to a real reducer.
type loggingDispatcher struct {
	log *logrus.Logger
}

func (d loggingDispatcher) Dispatch(update dispatch.StateUpdate) {
	d.log.WithFields(logrus.Fields{
		"thoughts": len(update.ThoughtIndexUpdates),
		"lexemes":  len(update.LexemeIndexUpdates),
	}).Info("state update")
}

func (d loggingDispatcher) Alert(message string) {
	d.log.Warn(message)
}
