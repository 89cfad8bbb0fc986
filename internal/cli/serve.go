package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	delivery "shelfcheck/internal/delivery/http"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for validation, matching and catalog management.

Examples:
  shelfcheck serve
  shelfcheck serve --addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if report, err := a.indexer.RetryPending(cmd.Context()); err == nil && report.Failed > 0 {
		log.Warn().Int("pending", report.Failed).Msg("some entries are still waiting for their vectors")
	}

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	gin.SetMode(gin.ReleaseMode)
	handler := delivery.NewHandler(a.validator, a.matcher, a.indexer)
	srv := &http.Server{
		Addr:              addr,
		Handler:           delivery.NewRouter(a.cfg.Server, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("backend", a.cfg.Index.Backend).Str("embedder", a.embedder.ModelName()).Msg("serving HTTP API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-cmd.Context().Done():
	}

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
