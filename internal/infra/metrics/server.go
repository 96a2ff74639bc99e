package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"botgate/internal/infra/config"
	"botgate/internal/infra/middleware"
)

// Serve exposes the metrics handler on cfg.Addr until ctx is cancelled.
// It returns once the listener is bound; serving continues in the background.
func Serve(ctx context.Context, m *Metrics, cfg config.MetricsConfig, logger *slog.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.Handler())

	handler := middleware.SecurityHeaders(middleware.RateLimit(ctx, 600, 50)(middleware.AccessLog(logger)(mux)))
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", ln.Addr().String(), "path", cfg.Path)
	return ln.Addr(), nil
}
