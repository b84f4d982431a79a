// Package netx holds HTTP serving plumbing shared by the auth service and
// the gateway.
package netx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
)

const (
	// ShutdownTimeout bounds how long in-flight requests may drain.
	ShutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Serve listens on addr and serves h until ctx is done, then shuts the
// server down gracefully. A clean shutdown returns nil.
func Serve(ctx context.Context, addr string, h http.Handler, logger logging.Logger) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, listen, h, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, listen net.Listener, h http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
