package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/born-ml/perceiver/envconfig"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/version"
)

// Serve answers requests on ln until SIGINT or SIGTERM. Models come from
// the default registry, built with opts.
func Serve(ln net.Listener, opts ...registry.Option) error {
	slog.Info("server config", "env", envconfig.Values())

	s := New(registry.DefaultRegistry, opts...)
	h, err := s.GenerateRoutes()
	if err != nil {
		return err
	}

	srvr := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
