// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/registry"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/btcsuite/hwcommander/verify"
)

// registryErr maps registry failures onto the engine's error kinds. Storage
// failures are returned unchanged.
func registryErr(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, registry.ErrCoinDisabled):
		return fmt.Errorf("%w: %w", ErrDisabled, err)

	case errors.Is(err, registry.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)

	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrNotRegistrable),
		errors.Is(err, scriptconfig.ErrInvalidConfig),
		errors.Is(err, scriptconfig.ErrUnknownSimpleType):

		return fmt.Errorf("%w: %w", ErrInvalidInput, err)

	default:
		return err
	}
}

// gateErr maps a failed confirmation onto the engine's error kinds.
func gateErr(err error) error {
	if errors.Is(err, verify.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrUserAbort, err)
	}

	return err
}

// checkMultisig validates a multisig config used at the account keypath kp
// and makes sure the cosigner marked as ours is this device.
func (e *Engine) checkMultisig(c coin.Coin, cfg scriptconfig.Config,
	kp keypath.Keypath) (*scriptconfig.Multisig, error) {

	ms, ok := cfg.(*scriptconfig.Multisig)
	if !ok || ms == nil {
		return nil, fmt.Errorf("%w: not a multisig config",
			ErrInvalidInput)
	}

	if err := ms.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := validateMultisigAccount(c, kp); err != nil {
		return nil, err
	}

	theirs, err := ms.OurXPub()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	ours, err := e.derivePub(kp)
	if err != nil {
		return nil, err
	}

	if !scriptconfig.SameXPub(ours, theirs) {
		return nil, fmt.Errorf("%w: xpub %d is not ours at %v",
			ErrInvalidInput, ms.OurXPubIndex, kp)
	}

	return ms, nil
}

// multisigSummary describes the config as "multisig <m>-of-<n>".
func multisigSummary(ms *scriptconfig.Multisig) string {
	return fmt.Sprintf("multisig %d-of-%d", ms.Threshold, len(ms.XPubs))
}

// MultisigAddress derives the P2WSH address of the registered multisig
// config at kp, which is the account keypath followed by change/index. The
// address is always confirmed by the user under the registered name before
// it is returned; display only reflects what the host asked for.
func (e *Engine) MultisigAddress(ctx context.Context, c coin.Coin,
	ms *scriptconfig.Multisig, kp keypath.Keypath,
	display bool) (string, error) {

	params, err := e.checkCoin(c)
	if err != nil {
		return "", err
	}

	if len(kp) != 6 {
		return "", fmt.Errorf("%w: multisig address keypath %v must "+
			"have 6 elements", ErrInvalidInput, kp)
	}
	account := kp[:4]

	if _, err := e.checkMultisig(c, ms, account); err != nil {
		return "", err
	}
	if err := validateChangeIndex(kp, 4); err != nil {
		return "", err
	}

	name, err := e.registry.Name(c, ms, account)
	if err != nil {
		return "", registryErr(err)
	}
	if name.IsNone() {
		return "", fmt.Errorf("%w: multisig config at %v is not "+
			"registered", ErrInvalidInput, account)
	}

	scripts, err := ms.Scripts(kp[4], kp[5], params)
	if err != nil {
		return "", err
	}
	addr := scripts.Address.EncodeAddress()

	title, err := verify.FormatTitle(
		"%s\n%s", name.UnwrapOr(""), multisigSummary(ms),
	)
	if err != nil {
		return "", err
	}

	log.Debugf("Confirming multisig address %v at %v (display=%v)", addr,
		kp, display)

	if err := e.gate.Verify(ctx, title, addr); err != nil {
		return "", gateErr(err)
	}

	return addr, nil
}

// IsScriptConfigRegistered returns true if the multisig config was
// registered for the coin at the account keypath kp.
func (e *Engine) IsScriptConfigRegistered(c coin.Coin,
	cfg scriptconfig.Config, kp keypath.Keypath) (bool, error) {

	if _, err := e.checkCoin(c); err != nil {
		return false, err
	}

	registered, err := e.registry.IsRegistered(c, cfg, kp)
	if err != nil {
		return false, registryErr(err)
	}

	return registered, nil
}

// RegisterScriptConfig asks the user to approve the multisig config and
// stores it under name.
func (e *Engine) RegisterScriptConfig(ctx context.Context, c coin.Coin,
	cfg scriptconfig.Config, kp keypath.Keypath, name string) error {

	params, err := e.checkCoin(c)
	if err != nil {
		return err
	}

	ms, err := e.checkMultisig(c, cfg, kp)
	if err != nil {
		return err
	}

	if err := registry.ValidateName(name); err != nil {
		return registryErr(err)
	}

	// Don't bother the user with a registration that cannot succeed.
	registered, err := e.registry.IsRegistered(c, ms, kp)
	if err != nil {
		return registryErr(err)
	}
	if registered {
		return fmt.Errorf("%w: script config at %v", ErrDuplicate, kp)
	}

	if err := e.confirmRegistration(ctx, c, ms, kp, name, params); err != nil {
		return err
	}

	return registryErr(e.registry.Register(c, ms, kp, name))
}

// confirmRegistration shows the config summary followed by every cosigner.
func (e *Engine) confirmRegistration(ctx context.Context, c coin.Coin,
	ms *scriptconfig.Multisig, kp keypath.Keypath, name string,
	params *chaincfg.Params) error {

	title, err := verify.FormatTitle("Register\n%s", c.Name())
	if err != nil {
		return err
	}

	account, err := kp.Account()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	body := fmt.Sprintf("%s\n%s\naccount #%d", name, multisigSummary(ms),
		uint64(account)+1)
	if err := e.gate.Verify(ctx, title, body); err != nil {
		return gateErr(err)
	}

	for i, xpub := range ms.XPubs {
		title, err := verify.FormatTitle(
			"Cosigner %d/%d", i+1, len(ms.XPubs),
		)
		if err != nil {
			return err
		}

		encoded, err := xpub.CloneWithVersion(params.HDPublicKeyID[:])
		if err != nil {
			return err
		}

		body := encoded.String()
		if uint32(i) == ms.OurXPubIndex {
			body = "This device: " + body
		}

		if err := e.gate.Verify(ctx, title, body); err != nil {
			return gateErr(err)
		}
	}

	return nil
}
