// Package server implements the per-connection state machine, the
// routing table, and the authenticated command dispatcher — the
// engineering core the rest of the repository exists to support.
package server

import (
	"context"
	"crypto/tls"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rura/identity"
	"rura/metrics"
)

// Config holds the runtime knobs the server core itself consumes.
// Everything else in config.Config (log setup, metrics address, db
// path) is resolved by the caller before constructing a Server.
type Config struct {
	RequireE2EE bool
}

// Server owns the shared state every connection goroutine reads or
// mutates: the routing table and the identity store. It has no
// notion of TLS or listening — that lives in Listen below —
// so the connection state machine can be driven directly in tests
// over a net.Pipe.
type Server struct {
	cfg     Config
	store   identity.Store
	routing *RoutingTable
	log     *zap.Logger
	metrics *metrics.Registry
}

// New builds a Server ready to drive connections.
func New(cfg Config, store identity.Store, log *zap.Logger, reg *metrics.Registry) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		routing: NewRoutingTable(),
		log:     log,
		metrics: reg,
	}
}

// Listen accepts TLS connections on addr until ctx is canceled,
// running one goroutine per connection. It returns once the listener
// is closed and every spawned connection goroutine has exited.
func (s *Server) Listen(ctx context.Context, addr string, tlsCfg *tls.Config) error {
	ln, err := tls.Listen("tcp", addr, tlsCfg)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	group.Go(func() error {
		return s.acceptLoop(gctx, ln, group)
	})
	return group.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, group *errgroup.Group) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		group.Go(func() error {
			s.HandleConn(ctx, conn)
			return nil
		})
	}
}

// HandleConn drives one accepted connection to completion. It never
// returns an error: connection-level failures are logged and end that
// connection only, never the server (spec's connection-isolation
// invariant).
func (s *Server) HandleConn(ctx context.Context, raw net.Conn) {
	c := newConn(s, raw)
	c.run(ctx)
}
