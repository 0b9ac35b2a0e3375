package server

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rura/protocol"
)

const outboundBuffer = 64

// authState is the connection's position in the Unauth -> Auth ->
// Closed lifecycle. Closed is implicit: once run returns, the
// connection no longer exists.
type authState int

const (
	stateUnauth authState = iota
	stateAuth
)

// conn is one accepted TLS connection and everything its owning
// goroutine needs to drive it: the framed reader/writer pair, its
// auth state, and (once authenticated) the outbound sink registered
// in the server's routing table.
type conn struct {
	srv    *Server
	raw    net.Conn
	reader *protocol.FrameReader
	writer *protocol.FrameWriter
	log    *zap.Logger

	state    authState
	userID   int64
	outbound Sink
}

func newConn(srv *Server, raw net.Conn) *conn {
	sessionID := uuid.NewString()
	return &conn{
		srv:      srv,
		raw:      raw,
		reader:   protocol.NewFrameReader(raw),
		writer:   protocol.NewFrameWriter(raw),
		log:      srv.log.With(zap.String("session_id", sessionID)),
		state:    stateUnauth,
		outbound: make(Sink, outboundBuffer),
	}
}

// inboundFrame is one decode result handed from the read goroutine to
// the reactor loop; err is non-nil for a malformed line, and env is
// then the zero value.
type inboundFrame struct {
	env protocol.Envelope
	err error
}

// run is the connection's reactor: one goroutine performs blocking
// reads and feeds inboundCh, while this goroutine — the only writer
// of raw — multiplexes inbound frames against deliveries enqueued on
// outbound by other connections' dispatchers.
func (c *conn) run(ctx context.Context) {
	defer c.teardown()

	if err := c.writer.WriteEnvelope(protocol.Envelope{
		Command: protocol.CmdAuthRequired,
		Data:    protocol.AuthRequiredNotice,
	}); err != nil {
		c.log.Debug("write auth_required failed", zap.Error(err))
		return
	}

	if c.srv.metrics != nil {
		c.srv.metrics.ConnectionsTotal.Inc()
		c.srv.metrics.ConnectionsActive.Inc()
		defer c.srv.metrics.ConnectionsActive.Dec()
	}

	inboundCh := make(chan inboundFrame, 1)
	go c.readLoop(inboundCh)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-inboundCh:
			if !ok {
				return
			}
			if frame.err != nil {
				c.handleFrameError(frame.err)
				continue
			}
			if !c.handleEnvelope(frame.env) {
				return
			}
		case out, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.writer.WriteEnvelope(out); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *conn) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		env, err := c.reader.ReadEnvelope()
		if err != nil {
			var parseErr *protocol.FrameParseError
			if errors.As(err, &parseErr) {
				out <- inboundFrame{err: parseErr}
				continue
			}
			return
		}
		out <- inboundFrame{env: env}
	}
}

// handleFrameError responds to a malformed line without changing auth
// state; it never blocks because it writes directly (this goroutine
// is the stream's only writer).
func (c *conn) handleFrameError(err error) {
	c.log.Debug("frame parse error", zap.Error(err))
	c.writeSelf(protocol.NewErrorEnvelope(protocol.ErrInvalidJSON))
}

// writeSelf writes a reply to this connection directly. It is safe
// because the reactor goroutine is the exclusive writer of c.raw and
// handleEnvelope runs synchronously inside that same goroutine.
func (c *conn) writeSelf(env protocol.Envelope) {
	if err := c.writer.WriteEnvelope(env); err != nil {
		c.log.Debug("write failed", zap.Error(err))
	}
}

// handleEnvelope processes one decoded frame and returns false if the
// connection should tear down.
func (c *conn) handleEnvelope(env protocol.Envelope) bool {
	c.log.Info("frame received", zap.String("command", env.Command), zap.Int("data_len", len(env.Data)))

	if c.state == stateUnauth {
		return c.handleUnauth(env)
	}
	c.dispatch(env)
	return true
}

// handleUnauth implements the Unauth transitions: only login/register
// can move the connection forward; anything else is rejected without
// side effects.
func (c *conn) handleUnauth(env protocol.Envelope) bool {
	switch env.Command {
	case protocol.CmdLogin:
		c.handleAuth(env, false)
	case protocol.CmdRegister:
		c.handleAuth(env, true)
	default:
		c.writeSelf(protocol.NewErrorEnvelope(protocol.ErrAuthRequired))
	}
	return true
}

// teardown releases this connection's routing entry, but only if it
// still owns it — a later login may already have taken over.
func (c *conn) teardown() {
	if c.state == stateAuth {
		c.srv.routing.Unregister(c.userID, c.outbound)
	}
	c.raw.Close()
}
