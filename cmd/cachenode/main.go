// Command cachenode runs a single capacity-bounded cache engine behind an
// HTTP surface. A cachenode process knows nothing about the rest of the
// cluster; the proxy coordinator discovers it explicitly via
// POST /cluster/add-node.
//
// Example usage:
//
//	cachenode serve --host 127.0.0.1 --port 8001 --capacity 10000
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/torua/internal/cache"
	"github.com/dreamware/torua/internal/clusterapi"
	"github.com/dreamware/torua/internal/config"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/nodeserver"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cachenode",
		Short: "Run a capacity-bounded cache engine behind an HTTP surface",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfg config.NodeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the node HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", config.Getenv("CACHENODE_HOST", "127.0.0.1"), "listen host")
	flags.IntVar(&cfg.Port, "port", 8001, "listen port")
	flags.IntVar(&cfg.Capacity, "capacity", 10000, "maximum number of live entries")
	flags.DurationVar(&cfg.SweepInterval, "sweep-interval", config.DefaultSweepInterval, "background TTL sweeper interval (0 disables the sweeper)")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "enable debug-level logging")

	return cmd
}

func runServe(ctx context.Context, cfg config.NodeConfig) error {
	log := logging.Must("cachenode", cfg.Verbose)
	defer log.Sync() //nolint:errcheck

	sugar := log.Sugar()

	if cfg.Capacity <= 0 {
		return fmt.Errorf("--capacity must be positive, got %d", cfg.Capacity)
	}

	engine := cache.NewEngine(cfg.Capacity, cache.WithLogger(sugar), cache.WithSweepInterval(cfg.SweepInterval))
	defer engine.Close()

	id := clusterapi.NewID(cfg.Host, cfg.Port)
	node := nodeserver.New(engine, id, cfg.Port, cfg.Capacity, sugar)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           node.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("cachenode listening", "addr", addr, "capacity", cfg.Capacity)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-node.ShutdownRequested():
		sugar.Warn("shutdown requested via admin endpoint")
	case sig := <-stop:
		sugar.Infow("received signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown error", "err", err)
	}
	sugar.Info("cachenode stopped")
	return nil
}
