// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package commander dispatches host requests to the Bitcoin subsystem of the
// device. It owns the signing session state, gates every address and public
// key export behind an on-device confirmation and maps all outcomes onto a
// single error taxonomy.
package commander

import (
	"context"
	"sync"

	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/btcsuite/hwcommander/verify"
)

// Engine is the derivation and signing engine the commander drives.
type Engine interface {
	// Enabled returns true if the coin is served.
	Enabled(c coin.Coin) bool

	// XPub derives the extended public key at kp.
	XPub(c coin.Coin, xpubType messages.XPubType,
		kp keypath.Keypath) (string, error)

	// SimpleAddress derives a single key address at kp.
	SimpleAddress(c coin.Coin, t scriptconfig.SimpleType,
		kp keypath.Keypath) (string, error)

	// MultisigAddress derives the address of a registered multisig config
	// and has the user confirm it in the same step.
	MultisigAddress(ctx context.Context, c coin.Coin,
		ms *scriptconfig.Multisig, kp keypath.Keypath,
		display bool) (string, error)

	// IsScriptConfigRegistered looks up a registration.
	IsScriptConfigRegistered(c coin.Coin, cfg scriptconfig.Config,
		kp keypath.Keypath) (bool, error)

	// RegisterScriptConfig registers a multisig config under name.
	RegisterScriptConfig(ctx context.Context, c coin.Coin,
		cfg scriptconfig.Config, kp keypath.Keypath, name string) error

	// SignInit starts a signing session.
	SignInit(ctx context.Context,
		req *messages.BTCSignInitRequest) (*messages.BTCSignNextResponse,
		error)

	// SignInput processes the next input of the session.
	SignInput(ctx context.Context,
		req *messages.BTCSignInputRequest) (*messages.BTCSignNextResponse,
		error)

	// SignOutput processes the next output of the session.
	SignOutput(ctx context.Context,
		req *messages.BTCSignOutputRequest) (*messages.BTCSignNextResponse,
		error)

	// ResetSign discards the engine's signing session.
	ResetSign()
}

// Commander handles host requests one at a time.
type Commander struct {
	engine Engine
	gate   *verify.Gate

	// mu serializes requests. It is held across user confirmations, so no
	// request is dispatched while one is pending.
	mu sync.Mutex

	// state is the signing session state. Only the sign handlers change
	// it.
	state signState
}

// New creates a commander on top of the engine, confirming exports with
// gate.
func New(e Engine, gate *verify.Gate) *Commander {
	return &Commander{
		engine: e,
		gate:   gate,
	}
}

// Handle processes one request and returns its response, which is either
// the payload matching the request variant or an ErrorResponse.
func (c *Commander) Handle(ctx context.Context,
	req messages.Request) messages.Response {

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.dispatch(ctx, req)
	if err != nil {
		log.Debugf("Request %v failed: %v", requestType(req), err)
		return errorResponse(err)
	}

	return resp
}

// requestType returns the type of req, tolerating nil.
func requestType(req messages.Request) messages.RequestType {
	if req == nil {
		return messages.RequestTypeUnknown
	}

	return req.RequestType()
}

// dispatch selects the handler of the request variant.
func (c *Commander) dispatch(ctx context.Context,
	req messages.Request) (messages.Response, error) {

	if req == nil {
		return nil, newError(ErrInvalidInput, "empty request", nil)
	}

	if err := c.state.canHandle(req.RequestType()); err != nil {
		log.Warnf("Aborting signing session: %v", err)
		c.resetSession()

		return nil, newError(ErrGeneric, "unexpected request", err)
	}

	switch r := req.(type) {
	case *messages.BTCPubRequest:
		return c.handlePub(ctx, r)

	case *messages.BTCIsScriptConfigRegisteredRequest:
		return c.handleIsScriptConfigRegistered(r)

	case *messages.BTCRegisterScriptConfigRequest:
		return c.handleRegisterScriptConfig(ctx, r)

	case *messages.BTCSignInitRequest:
		return c.handleSignInit(ctx, r)

	case *messages.BTCSignInputRequest:
		return c.handleSignInput(ctx, r)

	case *messages.BTCSignOutputRequest:
		return c.handleSignOutput(ctx, r)

	default:
		return nil, newError(ErrInvalidInput, "unknown request", nil)
	}
}
