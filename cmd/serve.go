package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/classifier"
	"github.com/sells-group/vision-cli/internal/monitoring"
	"github.com/sells-group/vision-cli/internal/server"
	"github.com/sells-group/vision-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classification HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		shared, err := store.OpenOrLocal(ctx, cfg.RateLimit.Store)
		if err != nil {
			return eris.Wrap(err, "open rate limit store")
		}
		if shared != nil {
			defer shared.Close() //nolint:errcheck
		}

		svc, err := classifier.Build(cfg)
		if err != nil {
			return err
		}

		limiters := server.NewLimiters(cfg.RateLimit, shared)
		collector := monitoring.NewCollector(svc, svc.Breaker(), limiters.Sources()...)

		go sweepLimiters(ctx, limiters, time.Minute)

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.New(server.ConfigFrom(cfg), svc, limiters, collector).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("primary", cfg.Vision.Primary),
			zap.String("fallback", cfg.Vision.Fallback),
			zap.String("store", cfg.RateLimit.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// sweepLimiters periodically drops idle rate limit keys until ctx is done.
func sweepLimiters(ctx context.Context, l server.Limiters, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
