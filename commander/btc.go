// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commander

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/btcsuite/hwcommander/verify"
)

// checkEnabled fails with ErrDisabled for coins the engine does not serve.
// It must run before anything else touches the coin.
func (c *Commander) checkEnabled(cn coin.Coin) error {
	if !c.engine.Enabled(cn) {
		return newError(ErrDisabled, "coin not enabled",
			fmt.Errorf("coin %v", cn))
	}

	return nil
}

// confirm shows title and value to the user.
func (c *Commander) confirm(ctx context.Context, title, value string) error {
	err := c.gate.Verify(ctx, title, value)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, verify.ErrRejected):
		return newError(ErrUserAbort, "aborted by user", err)

	default:
		return newError(ErrGeneric, "confirmation failed", err)
	}
}

// handlePub exports an xpub or an address.
func (c *Commander) handlePub(ctx context.Context,
	r *messages.BTCPubRequest) (messages.Response, error) {

	if r == nil {
		return nil, newError(ErrInvalidInput, "empty pub request", nil)
	}

	if err := c.checkEnabled(r.Coin); err != nil {
		return nil, err
	}

	var (
		pub string
		err error
	)
	switch out := r.Output.(type) {
	case messages.XPubOutput:
		pub, err = c.xpub(ctx, r, out.Type)

	case messages.ScriptConfigOutput:
		switch cfg := out.Config.(type) {
		case scriptconfig.Simple:
			pub, err = c.simpleAddress(ctx, r, cfg.Type)

		case *scriptconfig.Multisig:
			pub, err = c.engine.MultisigAddress(
				ctx, r.Coin, cfg, r.Keypath, r.Display,
			)
			if err != nil {
				err = engineError("multisig address", err)
			}

		default:
			err = newError(ErrInvalidInput, "unknown script config",
				nil)
		}

	default:
		err = newError(ErrInvalidInput, "unknown pub output", nil)
	}
	if err != nil {
		return nil, err
	}

	return &messages.PubResponse{Pub: pub}, nil
}

// xpub derives an extended public key and optionally confirms it under
// the account title.
func (c *Commander) xpub(ctx context.Context, r *messages.BTCPubRequest,
	xpubType messages.XPubType) (string, error) {

	xpub, err := c.engine.XPub(r.Coin, xpubType, r.Keypath)
	if err != nil {
		return "", newError(ErrGeneric, "derive xpub", err)
	}

	if !r.Display {
		return xpub, nil
	}

	title, err := verify.XPubTitle(r.Coin.Name(), r.Keypath)
	if err != nil {
		return "", newError(ErrGeneric, "xpub title", err)
	}

	if err := c.confirm(ctx, title, xpub); err != nil {
		return "", err
	}

	return xpub, nil
}

// simpleAddress derives a single key address and optionally confirms it.
func (c *Commander) simpleAddress(ctx context.Context,
	r *messages.BTCPubRequest, t scriptconfig.SimpleType) (string, error) {

	addr, err := c.engine.SimpleAddress(r.Coin, t, r.Keypath)
	if err != nil {
		return "", newError(ErrGeneric, "derive address", err)
	}

	if !r.Display {
		return addr, nil
	}

	title, err := verify.SimpleAddressTitle(r.Coin.Name(), t)
	if err != nil {
		return "", newError(ErrGeneric, "address title", err)
	}

	if err := c.confirm(ctx, title, addr); err != nil {
		return "", err
	}

	return addr, nil
}

// handleIsScriptConfigRegistered looks up a registration.
func (c *Commander) handleIsScriptConfigRegistered(
	r *messages.BTCIsScriptConfigRegisteredRequest) (messages.Response,
	error) {

	if r == nil {
		return nil, newError(ErrInvalidInput, "empty registry query",
			nil)
	}

	reg := r.Registration
	if err := c.checkEnabled(reg.Coin); err != nil {
		return nil, err
	}

	registered, err := c.engine.IsScriptConfigRegistered(
		reg.Coin, reg.ScriptConfig, reg.Keypath,
	)
	if err != nil {
		return nil, engineError("registry lookup", err)
	}

	return &messages.BTCIsScriptConfigRegisteredResponse{
		IsRegistered: registered,
	}, nil
}

// handleRegisterScriptConfig registers a multisig config.
func (c *Commander) handleRegisterScriptConfig(ctx context.Context,
	r *messages.BTCRegisterScriptConfigRequest) (messages.Response, error) {

	if r == nil {
		return nil, newError(ErrInvalidInput, "empty registration", nil)
	}

	reg := r.Registration
	if err := c.checkEnabled(reg.Coin); err != nil {
		return nil, err
	}

	err := c.engine.RegisterScriptConfig(
		ctx, reg.Coin, reg.ScriptConfig, reg.Keypath, r.Name,
	)
	if err != nil {
		return nil, engineError("register script config", err)
	}

	log.Infof("Registered %v script config %q", reg.Coin, r.Name)

	return &messages.SuccessResponse{}, nil
}
