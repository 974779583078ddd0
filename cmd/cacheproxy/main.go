// Command cacheproxy runs the coordinator that fronts a cachenode cluster:
// consistent-hash routing, replica fan-out, write-through to a durable
// backing store, partition simulation, and chaos-driven node termination.
//
// Example usage:
//
//	cacheproxy serve --host 127.0.0.1 --port 8080 --db ./proxy.db
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dreamware/torua/internal/chaos"
	"github.com/dreamware/torua/internal/config"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/proxy"
	"github.com/dreamware/torua/internal/store"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cacheproxy",
		Short: "Run the cache cluster's routing and coordination proxy",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfg config.ProxyConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", config.Getenv("CACHEPROXY_HOST", "127.0.0.1"), "listen host")
	flags.IntVar(&cfg.Port, "port", 8080, "listen port")
	flags.StringVar(&cfg.DBPath, "db", config.Getenv("CACHEPROXY_DB", "./cacheproxy.db"), "path to the backing-store database file")
	flags.IntVar(&cfg.ReplicationFactor, "replication-factor", config.DefaultReplicationFactor, "number of replicas per key")
	flags.DurationVar(&cfg.HTTPTimeoutPerCall, "call-timeout", config.DefaultHTTPTimeoutPerCall, "per-replica HTTP call timeout")
	flags.DurationVar(&cfg.HealthCheckPeriod, "health-check-period", config.DefaultHealthCheckPeriod, "interval between liveness probes")
	flags.IntVar(&cfg.VirtualNodesPerNode, "virtual-nodes", config.DefaultVirtualNodesPerNode, "virtual ring positions per physical node")
	flags.DurationVar(&cfg.ChaosMinInterval, "chaos-min-interval", config.DefaultChaosMinInterval, "minimum delay between chaos ticks")
	flags.DurationVar(&cfg.ChaosMaxInterval, "chaos-max-interval", config.DefaultChaosMaxInterval, "maximum delay between chaos ticks")
	flags.IntVar(&cfg.ChaosMinSurviving, "chaos-min-surviving", config.DefaultChaosMinSurviving, "chaos ticks are skipped at or below this many live nodes")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "enable debug-level logging")

	return cmd
}

func runServe(ctx context.Context, cfg config.ProxyConfig) error {
	log := logging.Must("cacheproxy", cfg.Verbose)
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	backing, err := store.OpenBoltBackend(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open backing store: %w", err)
	}
	defer backing.Close()

	reg := prometheus.NewRegistry()
	coord := proxy.New(backing, proxy.Config{
		ReplicationFactor:  cfg.ReplicationFactor,
		HTTPTimeoutPerCall: cfg.HTTPTimeoutPerCall,
		HealthCheckPeriod:  cfg.HealthCheckPeriod,
		VirtualNodes:       cfg.VirtualNodesPerNode,
	}, reg, sugar)

	chaosCtl := chaos.New(coord.NodeProvider, coord.Terminate,
		cfg.ChaosMinInterval, cfg.ChaosMaxInterval, cfg.ChaosMinSurviving, sugar)

	healthCtx, cancelHealth := context.WithCancel(ctx)
	coord.StartHealthLoop(healthCtx)
	defer func() {
		cancelHealth()
		coord.StopHealthLoop()
	}()

	server := proxy.NewServer(coord, chaosCtl, sugar)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("cacheproxy listening", "addr", addr, "db", cfg.DBPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-stop:
		sugar.Infow("received signal", "signal", sig.String())
	}

	server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown error", "err", err)
	}
	sugar.Info("cacheproxy stopped")
	return nil
}
