// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commander

import (
	"context"

	"github.com/btcsuite/hwcommander/messages"
)

// resetSession returns to idle and drops the engine's session.
func (c *Commander) resetSession() {
	c.state = stateIdle
	c.engine.ResetSign()
}

// advance moves the session to the step the engine announced after a step
// of type t. Any failure ends the session.
func (c *Commander) advance(t messages.RequestType,
	next *messages.BTCSignNextResponse, err error) (messages.Response,
	error) {

	if err != nil {
		c.resetSession()
		return nil, engineError("sign step", err)
	}

	if next == nil {
		c.resetSession()
		return nil, newError(ErrGeneric, "sign step", nil)
	}

	state, err := nextState(t, next.Type)
	if err != nil {
		c.resetSession()
		return nil, newError(ErrGeneric, "sign step", err)
	}

	log.Debugf("Signing session after %v: %v", t, state)
	c.state = state

	return next, nil
}

// handleSignInit starts a signing session.
func (c *Commander) handleSignInit(ctx context.Context,
	r *messages.BTCSignInitRequest) (messages.Response, error) {

	c.state = stateIdle

	if r == nil {
		return nil, newError(ErrInvalidInput, "empty sign init", nil)
	}

	if err := c.checkEnabled(r.Coin); err != nil {
		return nil, err
	}

	next, err := c.engine.SignInit(ctx, r)

	return c.advance(messages.RequestTypeBTCSignInit, next, err)
}

// handleSignInput streams the next input.
func (c *Commander) handleSignInput(ctx context.Context,
	r *messages.BTCSignInputRequest) (messages.Response, error) {

	// The session only continues if this step succeeds.
	c.state = stateIdle

	if r == nil {
		c.resetSession()
		return nil, newError(ErrInvalidInput, "empty sign input", nil)
	}

	next, err := c.engine.SignInput(ctx, r)

	return c.advance(messages.RequestTypeBTCSignInput, next, err)
}

// handleSignOutput streams the next output.
func (c *Commander) handleSignOutput(ctx context.Context,
	r *messages.BTCSignOutputRequest) (messages.Response, error) {

	c.state = stateIdle

	if r == nil {
		c.resetSession()
		return nil, newError(ErrInvalidInput, "empty sign output", nil)
	}

	next, err := c.engine.SignOutput(ctx, r)

	return c.advance(messages.RequestTypeBTCSignOutput, next, err)
}
