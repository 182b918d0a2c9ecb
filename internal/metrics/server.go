package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsPath is where the exposition is served.
const MetricsPath = "/metrics"

const readHeaderTimeout = 5 * time.Second

// Server serves the metrics endpoint in the background.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan struct{}
}

// Listen binds addr and starts serving g at MetricsPath. Use port 0 to pick
// a free port; Addr reports the bound address.
func Listen(addr string, g prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, Handler(g))

	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()), slog.String("path", MetricsPath))

	return s, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting connections and waits for in-flight scrapes until
// ctx expires.
func (s *Server) Close(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done

	return err
}
