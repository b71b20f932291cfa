package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-notes/internal/observability"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local control API",
	Long: `Run the local control API and websocket event stream.

Endpoints:
  /api/...   recording, enrichment, questions, speech and settings
  /events    websocket stream of pipeline events
  /health    liveness
  /ready     provider readiness
  /metrics   Prometheus metrics (when METRICS_ENABLED)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		logger := observability.GetLogger()

		addr := a.Config.ListenAddr
		if listenAddr != "" {
			addr = listenAddr
		}
		server := a.Server().HTTPServer(addr)

		logger.Info().
			Str("addr", addr).
			Str("stt_provider", a.Config.STTProvider).
			Str("llm_provider", a.Config.LLMProvider).
			Str("log_level", a.Config.LogLevel).
			Bool("metrics_enabled", a.Config.MetricsEnabled).
			Msg("Voice notes service starting")

		errc := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			a.Close(context.Background())
			return err
		case <-cmd.Context().Done():
		}

		logger.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a.Close(ctx)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		logger.Info().Msg("Server exited gracefully")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")
}
