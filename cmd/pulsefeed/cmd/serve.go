package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsefeed/pulsefeed/internal/bootstrap"
	"github.com/pulsefeed/pulsefeed/internal/ingest"
)

var serveAddr string

// ServeCmd runs the webhook ingress and subscriber API server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook ingress server",
	Long: `Run the HTTP server that receives GitHub webhooks and serves the
subscriber mutation API.

Endpoints:
  POST /webhook        GitHub webhook receiver (signed with webhook_secret)
  POST /api/subscribe  Subscribe a user to a repo (backfills their timeline)
  POST /api/like       Like a public timeline entry
  POST /api/read       Mark a user timeline entry read
  POST /api/snooze     Snooze a user timeline entry
  GET  /healthz        Liveness probe
  GET  /metrics        Prometheus metrics

Events are only stored here. The worker command turns them into timeline
entries, so both need to run for a working feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true, false)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}

		s, err := openStores(cfg)
		if err != nil {
			return err
		}

		log := bootstrap.Logger("ingest")
		server := ingest.NewServer(cfg.WebhookSecret, s.events, s.repos, log)
		mux := server.Mux()
		ingest.NewAPI(s.repos, s.timelines, s.milestones, s.writer, log).Register(mux)

		httpSrv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.ListenAddr).Msg("serve: listening")
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			log.Info().Msg("serve: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}
