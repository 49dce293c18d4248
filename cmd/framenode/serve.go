package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/framekv/internal/config"
	"github.com/devrev/framekv/internal/dataframe"
	"github.com/devrev/framekv/internal/gossip"
	"github.com/devrev/framekv/internal/kdstore"
	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/network"
	"github.com/devrev/framekv/internal/server"
	"github.com/devrev/framekv/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type serveOptions struct {
	configPath string
	preload    string
	preloadKey string
}

func newServeCommand() *cobra.Command {
	v := config.New()
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Join the cluster and serve the local store until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.preload, "preload", "", "YAML column set to store as a dataframe after joining")
	flags.StringVar(&opts.preloadKey, "preload-key", "main", "key name for the preloaded dataframe")
	flags.Int("index", 0, "node index (0 is the rendezvous node)")
	flags.String("listen", "127.0.0.1:7000", "host:port to accept peer connections on")
	flags.String("advertise", "", "host:port peers should dial, if different from --listen")
	flags.String("rendezvous", "", "host:port of node 0")
	flags.Int("cluster-size", 0, "expected number of nodes, logged once reached")
	flags.Int("admin-port", 9100, "admin HTTP port")
	flags.String("log-level", "info", "log level")

	bind := map[string]string{
		"node.index":        "index",
		"node.listen":       "listen",
		"node.advertise":    "advertise",
		"node.rendezvous":   "rendezvous",
		"node.cluster_size": "cluster-size",
		"admin.port":        "admin-port",
		"logging.level":     "log-level",
	}
	for key, flag := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func runServe(parent context.Context, v *viper.Viper, opts *serveOptions) error {
	cfg, err := config.Load(v, opts.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.Int("node", cfg.Node.Index),
		zap.String("listen", cfg.Node.Listen),
		zap.String("rendezvous", cfg.Node.Rendezvous))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(cfg.Node.Index)
	st := store.NewStore(m, logger)
	node, err := network.NewNetwork(cfg.NetworkConfig(), st, m, logger)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	defer node.Stop()

	var members server.Membership
	if cfg.Gossip.Enabled {
		gs, err := gossip.NewService(gossip.Config{
			BindAddr:       cfg.Gossip.BindAddr,
			BindPort:       cfg.Gossip.BindPort,
			Seeds:          cfg.Gossip.Seeds,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, gossip.Meta{Index: cfg.Node.Index, Addr: node.Addr().String()}, m, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			defer gs.Shutdown(time.Second)
			members = gs
			logger.Info("Gossip service initialized", zap.String("addr", gs.Addr()))
		}
	}

	if cfg.Admin.Enabled {
		admin := server.NewServer(cfg.Admin, node, members, m, logger)
		if err := admin.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Admin server shutdown failed", zap.Error(err))
			}
		}()
	}

	kd := kdstore.New(cfg.Node.Index, st, node, nil,
		kdstore.WithSegmentCapacity(cfg.Store.SegmentCapacity),
		kdstore.WithMetrics(m),
		kdstore.WithLogger(logger))

	if opts.preload != "" {
		if err := preload(ctx, kd, opts.preload, opts.preloadKey, logger); err != nil {
			return err
		}
	}

	if cfg.Node.ClusterSize > 0 {
		go func() {
			if err := node.WaitForDirectory(ctx, cfg.Node.ClusterSize); err == nil {
				logger.Info("Cluster complete", zap.Int("nodes", cfg.Node.ClusterSize))
			}
		}()
	}

	logger.Info("Node serving",
		zap.Int("node", node.Index()),
		zap.String("addr", node.Addr().String()),
		zap.String("state", node.State().String()))

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	return nil
}

// preload stores the column set in path as a dataframe under name on this node.
func preload(ctx context.Context, kd *kdstore.KDStore, path, name string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open preload file: %w", err)
	}
	defer f.Close()

	set, err := dataframe.LoadColumnSet(f)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	key := model.NewKey(name, kd.Index())
	df, err := kd.FromColumnSet(ctx, key, set)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	logger.Info("Preloaded dataframe",
		zap.String("key", key.String()),
		zap.String("schema", df.Schema().String()),
		zap.Int("rows", df.NRows()))
	return nil
}
