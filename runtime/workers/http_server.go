package workers

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultShutdownTimeout = 5 * time.Second

// HTTPServerWorker serves handler until the context ends, then shuts the
// server down gracefully. A listen failure is returned so the supervisor
// can retry.
type HTTPServerWorker struct {
	log             *slog.Logger
	address         string
	handler         http.Handler
	shutdownTimeout time.Duration
}

func NewHTTPServerWorker(log *slog.Logger, address string, handler http.Handler) *HTTPServerWorker {
	return &HTTPServerWorker{
		log:             log,
		address:         address,
		handler:         handler,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

func (w *HTTPServerWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.address, err)
	}
	return w.Serve(ctx, listener)
}

// Serve is Run on an already bound listener.
func (w *HTTPServerWorker) Serve(ctx context.Context, listener net.Listener) error {
	// A fresh server per run: a shut down http.Server cannot serve again.
	server := &http.Server{Handler: w.handler, ReadHeaderTimeout: 10 * time.Second}

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting HTTP server", "address", listener.Addr().String(), "at", time.Now().UTC())
		errChan <- server.Serve(listener)
	}()

	select {
	case err := <-errChan:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("HTTP server shutdown incomplete", "error", err)
		}
		w.log.Info("HTTP server stopped")
		return nil
	}
}
