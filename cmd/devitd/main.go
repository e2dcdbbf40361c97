// Package main implements devitd, the daemon that mediates between
// delegated LLM workers and a sandboxed workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"devit/internal/config"
	"devit/internal/daemon"
	"devit/internal/logging"
	"devit/internal/transport"
)

var (
	verbose    bool
	configPath string
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "devitd",
	Short: "devitd mediates delegated agent work against a sandboxed workspace",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the daemon and block until shutdown",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a devit.yaml config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	secret, err := cfg.SharedSecret()
	if err != nil {
		return fmt.Errorf("resolve shared secret: %w", err)
	}

	d, err := daemon.New(cfg, []byte(secret), logging.Named(logger, logging.Boot))
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer d.Close()

	dispatcher := transport.NewDispatcher(d.Authenticator())
	d.RegisterDispatcher(dispatcher)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transportLog := logging.Named(logger, logging.Transport)
	group, groupCtx := errgroup.WithContext(ctx)

	var sock *transport.SocketServer
	if cfg.Endpoint != "" {
		sock, err = transport.NewSocketServer(transportLog, dispatcher, cfg.Endpoint)
		if err != nil {
			return fmt.Errorf("build socket server: %w", err)
		}
		group.Go(func() error { return sock.Serve(groupCtx) })
		logger.Info("listening on unix socket", zap.String("path", cfg.Endpoint))
	}

	var httpSrv *transport.HTTPServer
	if cfg.HTTPAddr != "" {
		httpSrv = transport.NewHTTPServer(transportLog, dispatcher)
		group.Go(func() error { return httpSrv.ListenAndServe(cfg.HTTPAddr) })
		logger.Info("listening on http", zap.String("addr", cfg.HTTPAddr))
	}

	stopIdle := watchIdle(ctx, cfg.IdleShutdown, d, cancel)
	defer stopIdle()

	<-groupCtx.Done()
	logger.Info("shutting down")
	if sock != nil {
		_ = sock.Close()
	}
	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("server group: %w", err)
	}
	return nil
}

// watchIdle starts a background poller that cancels the daemon's
// context once it has reported no active tasks or pending approvals
// for idleShutdown. A zero idleShutdown disables the poller, meaning
// "run until signalled". The returned func stops the poller.
func watchIdle(ctx context.Context, idleShutdown time.Duration, d *daemon.Daemon, cancel context.CancelFunc) func() {
	if idleShutdown <= 0 {
		return func() {}
	}
	pollInterval := idleShutdown / 4
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	done := make(chan struct{})
	go func() {
		var quietSince time.Time
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if d.IdleTasks() {
					if quietSince.IsZero() {
						quietSince = time.Now()
					} else if time.Since(quietSince) >= idleShutdown {
						cancel()
						return
					}
				} else {
					quietSince = time.Time{}
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
