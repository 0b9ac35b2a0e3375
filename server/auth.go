package server

import (
	"errors"

	"go.uber.org/zap"

	"rura/identity"
	"rura/protocol"
)

// handleAuth services a login or register frame while Unauth. On
// success it registers the connection's sink before replying, so a
// concurrent message to this user can never race the auth_response.
func (c *conn) handleAuth(env protocol.Envelope, register bool) {
	command := env.Command
	var req protocol.AuthRequest
	if err := env.Decode(&req); err != nil || req.Passphrase == "" || req.Password == "" {
		c.recordAuthOutcome(command, "bad_format")
		c.writeSelf(mustEnvelope(protocol.CmdAuthResponse, protocol.AuthResponse{
			Success: false,
			Message: authFormatError(register),
		}))
		return
	}

	var (
		userID int64
		err    error
	)
	if register {
		userID, err = c.srv.store.Register(req.Passphrase, req.Password)
	} else {
		userID, err = c.srv.store.Authenticate(req.Passphrase, req.Password)
	}

	if err != nil {
		c.recordAuthOutcome(command, "failure")
		c.writeSelf(mustEnvelope(protocol.CmdAuthResponse, protocol.AuthResponse{
			Success: false,
			Message: authErrorMessage(err, register),
		}))
		return
	}

	c.state = stateAuth
	c.userID = userID
	c.log = c.log.With(zap.Int64("user_id", userID))
	c.srv.routing.Register(userID, c.outbound)

	c.recordAuthOutcome(command, "success")
	c.writeSelf(mustEnvelope(protocol.CmdAuthResponse, protocol.AuthResponse{
		Success: true,
		UserID:  &userID,
	}))
}

func authFormatError(register bool) string {
	if register {
		return protocol.ErrInvalidRegisterFormat
	}
	return protocol.ErrInvalidAuthFormat
}

func authErrorMessage(err error, register bool) string {
	switch {
	case errors.Is(err, identity.ErrAlreadyExists):
		return protocol.ErrPassphraseTaken
	case errors.Is(err, identity.ErrBadCredentials):
		return protocol.ErrInvalidCredentials
	case register:
		return protocol.ErrRegistrationFailed
	default:
		return protocol.ErrAuthStorage
	}
}

func (c *conn) recordAuthOutcome(command, outcome string) {
	if c.srv.metrics != nil {
		c.srv.metrics.AuthOutcomes.WithLabelValues(command, outcome).Inc()
	}
}

// mustEnvelope marshals payload for command. Every payload type here
// is a local struct with no cyclic or unmarshalable fields, so a
// marshal failure would be a programming error, not a runtime one.
func mustEnvelope(command string, payload interface{}) protocol.Envelope {
	env, err := protocol.NewEnvelope(command, payload)
	if err != nil {
		panic(err)
	}
	return env
}
