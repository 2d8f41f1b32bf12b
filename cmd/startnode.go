package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"powchain/logger"
	"powchain/rpc"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startNodeCmd = &cobra.Command{
	Use:   "startnode",
	Short: "Start the node",
	Long:  `Start the node with the HTTP API and optional automatic mining.`,
	RunE:  runStartNode,
}

func init() {
	flags := startNodeCmd.Flags()
	flags.String("rpcaddr", "127.0.0.1", "HTTP API listen address")
	flags.Int("rpcport", 8545, "HTTP API port")
	flags.Bool("enable_rpc", true, "Serve the HTTP API")
	flags.Bool("enable_metrics", true, "Expose Prometheus metrics on /metrics")
	flags.Bool("mining", false, "Mine blocks continuously from startup")
	flags.Duration("mining_interval", time.Second, "Pause between automatically mined blocks")

	for _, name := range []string{"rpcaddr", "rpcport", "enable_rpc", "enable_metrics", "mining", "mining_interval"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func runStartNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Starting node...")
	logger.Infof("Effective Configuration: DataDir=%s, RPC=%s (enabled=%t), Difficulty=%d, Workers=%d, Mining=%t, LogLevel=%s",
		cfg.DataDir, cfg.ListenAddr(), cfg.EnableRPC, cfg.Difficulty, cfg.Workers, cfg.Mining, cfg.LogLevel)

	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Errorf("Failed to close node: %v", err)
		}
	}()

	var rpcServer *rpc.Server
	if cfg.EnableRPC {
		rpcServer = rpc.NewServer(&rpc.Config{
			Host:          cfg.RPCAddr,
			Port:          cfg.RPCPort,
			EnableMetrics: cfg.EnableMetrics,
		}, n.chain, n.controller)
		rpcServer.UseBlockStore(n.store)
		if err := rpcServer.Start(); err != nil {
			return err
		}
	} else {
		logger.Info("HTTP API is disabled via configuration.")
	}

	if cfg.Mining {
		n.controller.Start()
	} else {
		logger.Info("Mining is disabled.")
	}

	logger.Info("Node started successfully. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logger.Infof("Received signal: %v, initiating shutdown...", s)

	if rpcServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rpcServer.Stop(shutdownCtx); err != nil {
			logger.Errorf("HTTP API graceful shutdown error: %v", err)
		}
	}

	logger.Info("Node stopped.")
	return nil
}
