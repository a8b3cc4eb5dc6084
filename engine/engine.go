// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine is a software implementation of the derivation and signing
// engine of the device. It holds the BIP-32 master key and serves the key
// derivation, address derivation, registration and transaction signing
// requests the command layer forwards to it.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/btcsuite/hwcommander/registry"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/btcsuite/hwcommander/verify"
)

const (
	// MaxAccount bounds the account number of any keypath the engine
	// derives from.
	MaxAccount = 100

	// MaxAddressIndex bounds the address index of receive and change
	// keypaths.
	MaxAddressIndex = 10000

	// multisigScriptType is the BIP-48 script type of P2WSH multisig.
	multisigScriptType = 2
)

var (
	// ErrUserAbort is returned when the user rejected a confirmation.
	ErrUserAbort = errors.New("aborted by user")

	// ErrInvalidInput is returned for malformed or policy violating
	// requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned when registering an existing script
	// config.
	ErrDuplicate = errors.New("duplicate entry")

	// ErrDisabled is returned for coins the policy does not enable.
	ErrDisabled = errors.New("coin disabled")

	// ErrNoSession is returned for signing steps without an active
	// session or out of order.
	ErrNoSession = errors.New("no matching signing session")
)

// xpubVersions maps the export formats to their SLIP-132 version bytes.
var xpubVersions = map[messages.XPubType][4]byte{
	messages.XPubTypeTPUB:        {0x04, 0x35, 0x87, 0xcf},
	messages.XPubTypeXPUB:        {0x04, 0x88, 0xb2, 0x1e},
	messages.XPubTypeYPUB:        {0x04, 0x9d, 0x7c, 0xb2},
	messages.XPubTypeZPUB:        {0x04, 0xb2, 0x47, 0x46},
	messages.XPubTypeVPUB:        {0x04, 0x5f, 0x1c, 0xf6},
	messages.XPubTypeUPUB:        {0x04, 0x4a, 0x52, 0x62},
	messages.XPubTypeCapitalVPUB: {0x02, 0x57, 0x54, 0x83},
	messages.XPubTypeCapitalZPUB: {0x02, 0xaa, 0x7e, 0xd3},
}

// Engine derives keys and addresses from a single seed and signs
// transactions streamed to it step by step.
type Engine struct {
	master   *hdkeychain.ExtendedKey
	policy   *coin.Policy
	registry *registry.Registry
	gate     *verify.Gate

	// mu guards session.
	mu      sync.Mutex
	session *signSession
}

// New creates an engine from a BIP-32 seed.
func New(seed []byte, policy *coin.Policy, reg *registry.Registry,
	gate *verify.Gate) (*Engine, error) {

	// The master key's version bytes are never exported, every key is
	// re-encoded for the coin or format it is requested for.
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	return &Engine{
		master:   master,
		policy:   policy,
		registry: reg,
		gate:     gate,
	}, nil
}

// Enabled returns true if the coin is served by this engine.
func (e *Engine) Enabled(c coin.Coin) bool {
	return e.policy.IsEnabled(c)
}

// checkCoin returns the chain params of an enabled coin.
func (e *Engine) checkCoin(c coin.Coin) (*chaincfg.Params, error) {
	if !e.Enabled(c) {
		return nil, fmt.Errorf("%w: %v", ErrDisabled, c)
	}

	return c.Params()
}

// derive returns the private extended key at kp.
func (e *Engine) derive(kp keypath.Keypath) (*hdkeychain.ExtendedKey, error) {
	key := e.master
	for _, idx := range kp {
		var err error
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %v: %w", kp, err)
		}
	}

	return key, nil
}

// derivePub returns the extended public key at kp.
func (e *Engine) derivePub(kp keypath.Keypath) (*hdkeychain.ExtendedKey,
	error) {

	key, err := e.derive(kp)
	if err != nil {
		return nil, err
	}

	return key.Neuter()
}

// derivePubKey returns the public key at kp.
func (e *Engine) derivePubKey(kp keypath.Keypath) (*btcec.PublicKey, error) {
	key, err := e.derive(kp)
	if err != nil {
		return nil, err
	}

	return key.ECPubKey()
}

// XPub returns the extended public key at kp encoded with the version bytes
// of xpubType.
func (e *Engine) XPub(c coin.Coin, xpubType messages.XPubType,
	kp keypath.Keypath) (string, error) {

	if _, err := e.checkCoin(c); err != nil {
		return "", err
	}

	version, ok := xpubVersions[xpubType]
	if !ok {
		return "", fmt.Errorf("%w: xpub type %v", ErrInvalidInput,
			xpubType)
	}

	if err := validateXPubKeypath(c, kp); err != nil {
		return "", err
	}

	xpub, err := e.derivePub(kp)
	if err != nil {
		return "", err
	}

	xpub, err = xpub.CloneWithVersion(version[:])
	if err != nil {
		return "", err
	}

	log.Debugf("Derived %v xpub at %v", xpubType, kp)

	return xpub.String(), nil
}

// SimpleAddress returns the single key address of type t at kp.
func (e *Engine) SimpleAddress(c coin.Coin, t scriptconfig.SimpleType,
	kp keypath.Keypath) (string, error) {

	params, err := e.checkCoin(c)
	if err != nil {
		return "", err
	}

	if err := validateSimpleAddressKeypath(c, t, kp); err != nil {
		return "", err
	}

	pubKey, err := e.derivePubKey(kp)
	if err != nil {
		return "", err
	}

	scripts, err := scriptconfig.Simple{Type: t}.Scripts(pubKey, params)
	if err != nil {
		return "", err
	}

	addr := scripts.Address.EncodeAddress()
	log.Debugf("Derived %v address %v at %v", t, addr, kp)

	return addr, nil
}

// checkElement verifies the keypath element at i.
func checkElement(kp keypath.Keypath, i int, want uint32,
	hardened bool) error {

	if hardened {
		want = keypath.Hardened(want)
	}

	if kp[i] != want {
		return fmt.Errorf("%w: keypath %v element %d must be %v",
			ErrInvalidInput, kp, i, keypath.Keypath{want})
	}

	return nil
}

// validateAccount checks the purpose'/coin'/account' prefix of kp.
func validateAccount(c coin.Coin, kp keypath.Keypath, purpose uint32) error {
	if len(kp) < 3 {
		return fmt.Errorf("%w: keypath %v too short", ErrInvalidInput,
			kp)
	}

	coinType, err := c.CoinType()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := checkElement(kp, 0, purpose, true); err != nil {
		return err
	}
	if err := checkElement(kp, 1, coinType, true); err != nil {
		return err
	}

	account, err := kp.Account()
	if err != nil || account >= MaxAccount {
		return fmt.Errorf("%w: keypath %v has no valid account",
			ErrInvalidInput, kp)
	}

	return nil
}

// validateMultisigAccount checks a 48'/coin'/account'/2' keypath.
func validateMultisigAccount(c coin.Coin, kp keypath.Keypath) error {
	if len(kp) != 4 {
		return fmt.Errorf("%w: multisig keypath %v must have 4 "+
			"elements", ErrInvalidInput, kp)
	}

	if err := validateAccount(c, kp, 48); err != nil {
		return err
	}

	return checkElement(kp, 3, multisigScriptType, true)
}

// validateXPubKeypath accepts BIP-44/49/84 account keypaths and BIP-48
// multisig account keypaths.
func validateXPubKeypath(c coin.Coin, kp keypath.Keypath) error {
	if len(kp) == 4 {
		return validateMultisigAccount(c, kp)
	}

	if len(kp) != 3 {
		return fmt.Errorf("%w: xpub keypath %v must have 3 elements",
			ErrInvalidInput, kp)
	}

	for _, purpose := range []uint32{44, 49, 84} {
		if kp[0] == keypath.Hardened(purpose) {
			return validateAccount(c, kp, purpose)
		}
	}

	return fmt.Errorf("%w: unsupported purpose in %v", ErrInvalidInput, kp)
}

// validateChangeIndex checks the unhardened change/index suffix that
// follows an account keypath of length prefixLen.
func validateChangeIndex(kp keypath.Keypath, prefixLen int) error {
	if len(kp) != prefixLen+2 {
		return fmt.Errorf("%w: keypath %v must have %d elements",
			ErrInvalidInput, kp, prefixLen+2)
	}

	change, index := kp[prefixLen], kp[prefixLen+1]
	if change > 1 || index >= MaxAddressIndex {
		return fmt.Errorf("%w: keypath %v has invalid change or index",
			ErrInvalidInput, kp)
	}

	return nil
}

// validateSimpleAddressKeypath checks purpose'/coin'/account'/change/index
// for the purpose of simple type t.
func validateSimpleAddressKeypath(c coin.Coin, t scriptconfig.SimpleType,
	kp keypath.Keypath) error {

	purpose, err := t.Purpose()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := validateAccount(c, kp, purpose); err != nil {
		return err
	}

	return validateChangeIndex(kp, 3)
}
