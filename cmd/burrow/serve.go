package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowq/burrow/pkg/api"
	"github.com/burrowq/burrow/pkg/log"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Burrow API server",
	Long: `Start the HTTP API server, the per-project reapers and the session
sweeper. The server exposes every command at POST /api/commands/<name>,
health at /healthz, Prometheus metrics at /metrics and tool descriptors
at /api/tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		// The server logs structured JSON; the CLI default is too quiet.
		level := flagLog
		if level == "" {
			level = a.cfg.LogLevel
		}
		log.Init(log.Config{Level: log.Level(level), JSONOutput: a.cfg.LogJSON, Output: os.Stderr})

		if err := a.ctx.Reapers.StartAllReapers(); err != nil {
			return fmt.Errorf("failed to start reapers: %w", err)
		}

		listen := flagListen
		if listen == "" {
			listen = a.cfg.ListenAddr
		}
		server := api.NewServer(a.registry, a.ctx, listen,
			time.Duration(a.cfg.SessionTTLMinutes)*time.Minute)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("Shutting down")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (overrides config)")
}
