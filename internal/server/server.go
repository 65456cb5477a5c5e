// Package server implements the upload server's Accept Loop: binding the
// TCP listener, accepting connections, and spawning one handler per
// connection under a context that the two-stage signal handler cancels for
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/uploadsrv/internal/handler"
	"github.com/tonimelisma/uploadsrv/internal/session"
)

// Server owns the upload protocol's listener and dispatches one Handler
// goroutine per accepted connection.
type Server struct {
	listenAddr  string
	storageDir  string
	idleTimeout time.Duration
	manager     *session.Manager
	logger      *slog.Logger
}

// New returns a Server ready to Run.
func New(listenAddr, storageDir string, idleTimeout time.Duration, manager *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		listenAddr:  listenAddr,
		storageDir:  storageDir,
		idleTimeout: idleTimeout,
		manager:     manager,
		logger:      logger,
	}
}

// Run binds the listener and serves connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled. Each
// connection's handler runs in its own goroutine tracked by an errgroup, so
// Serve only returns once every in-flight handler has finished — no chunk
// write is interrupted mid-flight by shutdown. Tests pass their own
// listener bound to port 0.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("upload server listening", slog.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down accept loop")

		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				break
			}

			if isClosed(err) {
				break
			}

			s.logger.Warn("accept failed", slog.String("error", err.Error()))

			continue
		}

		g.Go(func() error {
			h := handler.New(conn, s.manager, s.storageDir, s.idleTimeout, s.logger)
			h.Serve()

			return nil
		})
	}

	return g.Wait()
}

func isClosed(err error) bool {
	var opErr *net.OpError

	return errors.As(err, &opErr) && errors.Is(opErr.Err, net.ErrClosed)
}
