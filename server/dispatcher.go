package server

import (
	"rura/protocol"
)

// dispatch routes one authenticated frame to its handler. Unrecognized
// commands are echoed back verbatim on the sender's own outbound path.
func (c *conn) dispatch(env protocol.Envelope) {
	switch env.Command {
	case protocol.CmdMessage:
		c.handleMessage(env)
	case protocol.CmdSetPubkey:
		c.handleSetPubkey(env)
	case protocol.CmdGetPubkey:
		c.handleGetPubkey(env)
	default:
		c.writeSelf(env)
	}
}

// handleMessage validates, then routes a direct message to its
// recipient's outbound sink. Delivery is side-effectful only; there is
// no success reply to the sender.
func (c *conn) handleMessage(env protocol.Envelope) {
	var req protocol.MessageRequest
	if err := env.Decode(&req); err != nil || req.Body == "" {
		c.writeSelf(protocol.NewErrorEnvelope(protocol.ErrInvalidMessageFormat))
		return
	}

	if c.srv.cfg.RequireE2EE && !protocol.IsValidEnvelope(req.Body) {
		c.writeSelf(protocol.NewErrorEnvelope(protocol.ErrE2EERequired))
		c.recordMessage("rejected_e2ee")
		return
	}

	sink, online := c.srv.routing.GetSink(req.ToUserID)
	if !online {
		c.recordMessage("recipient_offline")
		return
	}

	out := mustEnvelope(protocol.CmdMessage, protocol.MessageEvent{
		FromUserID: c.userID,
		Body:       req.Body,
	})

	select {
	case sink <- out:
		c.recordMessage("delivered")
	default:
		// Recipient's sink is full, so the frame is dropped;
		// delivery failures here are non-fatal and silent.
		c.recordMessage("dropped")
	}
}

func (c *conn) recordMessage(outcome string) {
	if c.srv.metrics != nil {
		c.srv.metrics.MessagesRouted.WithLabelValues(outcome).Inc()
	}
}

// handleSetPubkey stores the caller's public key.
func (c *conn) handleSetPubkey(env protocol.Envelope) {
	var req protocol.SetPubkeyRequest
	if err := env.Decode(&req); err != nil || req.Pubkey == "" {
		c.writeSelf(protocol.NewErrorEnvelope(protocol.ErrInvalidSetPubkeyFormat))
		return
	}

	found, err := c.srv.store.SetPubkey(c.userID, req.Pubkey)
	switch {
	case err != nil:
		c.recordPubkeyOp("set", "storage_error")
		c.writeSelf(mustEnvelope(protocol.CmdSetPubkeyResp, protocol.SetPubkeyResponse{
			Success: false,
			Message: protocol.ErrPubkeyStoreFailed,
		}))
	case !found:
		c.recordPubkeyOp("set", "not_found")
		c.writeSelf(mustEnvelope(protocol.CmdSetPubkeyResp, protocol.SetPubkeyResponse{
			Success: false,
			Message: protocol.ErrUserNotFound,
		}))
	default:
		c.recordPubkeyOp("set", "success")
		c.writeSelf(mustEnvelope(protocol.CmdSetPubkeyResp, protocol.SetPubkeyResponse{
			Success: true,
			Message: protocol.MsgPubkeyStored,
		}))
	}
}

// handleGetPubkey returns another user's public key, if one is set.
func (c *conn) handleGetPubkey(env protocol.Envelope) {
	var req protocol.GetPubkeyRequest
	if err := env.Decode(&req); err != nil || req.UserID == 0 {
		c.writeSelf(protocol.NewErrorEnvelope(protocol.ErrInvalidGetPubkeyFormat))
		return
	}

	pubkey, found, err := c.srv.store.GetPubkey(req.UserID)
	switch {
	case err != nil:
		c.recordPubkeyOp("get", "storage_error")
		c.writeSelf(mustEnvelope(protocol.CmdGetPubkeyResp, protocol.GetPubkeyResponse{
			Success: false,
			Message: protocol.ErrPubkeyLoadFailed,
		}))
	case !found:
		c.recordPubkeyOp("get", "not_found")
		c.writeSelf(mustEnvelope(protocol.CmdGetPubkeyResp, protocol.GetPubkeyResponse{
			Success: false,
			Message: protocol.ErrPubkeyNotFound,
		}))
	default:
		c.recordPubkeyOp("get", "success")
		userID := req.UserID
		c.writeSelf(mustEnvelope(protocol.CmdGetPubkeyResp, protocol.GetPubkeyResponse{
			Success: true,
			UserID:  &userID,
			Pubkey:  &pubkey,
		}))
	}
}

func (c *conn) recordPubkeyOp(op, outcome string) {
	if c.srv.metrics != nil {
		c.srv.metrics.PubkeyOps.WithLabelValues(op, outcome).Inc()
	}
}
