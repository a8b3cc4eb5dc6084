// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package registry persists the multisig script configurations the user has
// explicitly approved, so that addresses of shared-ownership scripts can be
// confirmed on the device later on.
package registry

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxNameLen is the maximum length of a registration name.
	MaxNameLen = 30
)

var (
	// ErrDuplicate is returned when an equivalent registration already
	// exists, regardless of its name.
	ErrDuplicate = errors.New("script config already registered")

	// ErrInvalidName is returned for empty, too long or non printable
	// names.
	ErrInvalidName = errors.New("invalid registration name")

	// ErrCoinDisabled is returned when the coin is not enabled by the
	// coin policy.
	ErrCoinDisabled = errors.New("coin disabled")

	// ErrNotRegistrable is returned for script configurations that do not
	// need or support registration.
	ErrNotRegistrable = errors.New("script config cannot be registered")

	// ErrMissingBucket is returned when the registry bucket is gone.
	ErrMissingBucket = errors.New("missing script config bucket")

	// scriptConfigBucket is the top-level bucket holding registrations
	// keyed by registration id.
	scriptConfigBucket = []byte("scriptconfigs")

	// registrationTag domain-separates registration ids.
	registrationTag = []byte("hwcommander/scriptconfig")
)

// Registry is the store of registered script configurations.
type Registry struct {
	db     walletdb.DB
	policy *coin.Policy
}

// New returns a registry backed by db, creating its bucket if needed.
func New(db walletdb.DB, policy *coin.Policy) (*Registry, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if tx.ReadWriteBucket(scriptConfigBucket) != nil {
			return nil
		}

		_, err := tx.CreateTopLevelBucket(scriptConfigBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create script config bucket: %w", err)
	}

	return &Registry{
		db:     db,
		policy: policy,
	}, nil
}

// ID returns the registration id of the (coin, config, keypath) triple.
// Configs deriving the same scripts share an id.
func ID(c coin.Coin, cfg scriptconfig.Config,
	kp keypath.Keypath) (chainhash.Hash, error) {

	identity, err := scriptconfig.Identity(cfg)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *chainhash.TaggedHash(
		registrationTag, []byte{byte(c)}, identity, kp.Bytes(),
	), nil
}

// ValidateName checks a user supplied registration name.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("%w: length %d, expected 1..%d",
			ErrInvalidName, len(name), MaxNameLen)
	}

	if name[0] == ' ' || name[len(name)-1] == ' ' {
		return fmt.Errorf("%w: leading or trailing space",
			ErrInvalidName)
	}

	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return fmt.Errorf("%w: non printable character at %d",
				ErrInvalidName, i)
		}

		// Titles refuse formatting markers, so a name containing one
		// could never be shown.
		if name[i] == '%' {
			return fmt.Errorf("%w: '%%' at %d", ErrInvalidName, i)
		}
	}

	return nil
}

// checkMultisig makes sure the triple can be looked up at all.
func (r *Registry) checkMultisig(c coin.Coin,
	cfg scriptconfig.Config) (*scriptconfig.Multisig, error) {

	if !r.policy.IsEnabled(c) {
		return nil, fmt.Errorf("%w: %v", ErrCoinDisabled, c)
	}

	ms, ok := cfg.(*scriptconfig.Multisig)
	if !ok || ms == nil {
		return nil, fmt.Errorf("%w: %T", ErrNotRegistrable, cfg)
	}

	if err := ms.Validate(); err != nil {
		return nil, err
	}

	return ms, nil
}

// Name returns the name the triple was registered under, or None if it was
// never registered. A missing registration is not an error.
func (r *Registry) Name(c coin.Coin, cfg scriptconfig.Config,
	kp keypath.Keypath) (fn.Option[string], error) {

	none := fn.None[string]()

	if _, err := r.checkMultisig(c, cfg); err != nil {
		return none, err
	}

	id, err := ID(c, cfg, kp)
	if err != nil {
		return none, err
	}

	name := none
	err = walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(scriptConfigBucket)
		if bucket == nil {
			return ErrMissingBucket
		}

		if v := bucket.Get(id[:]); v != nil {
			name = fn.Some(string(v))
		}

		return nil
	})
	if err != nil {
		return none, err
	}

	return name, nil
}

// IsRegistered returns true if the triple has been registered.
func (r *Registry) IsRegistered(c coin.Coin, cfg scriptconfig.Config,
	kp keypath.Keypath) (bool, error) {

	name, err := r.Name(c, cfg, kp)
	if err != nil {
		return false, err
	}

	return name.IsSome(), nil
}

// Register persists a new registration. Registering an equivalent triple a
// second time fails with ErrDuplicate, even under the same name. The write
// happens in a single database transaction, so an interrupted registration
// is never observable.
func (r *Registry) Register(c coin.Coin, cfg scriptconfig.Config,
	kp keypath.Keypath, name string) error {

	if _, err := r.checkMultisig(c, cfg); err != nil {
		return err
	}

	if err := ValidateName(name); err != nil {
		return err
	}

	id, err := ID(c, cfg, kp)
	if err != nil {
		return err
	}

	err = walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(scriptConfigBucket)
		if bucket == nil {
			return ErrMissingBucket
		}

		if bucket.Get(id[:]) != nil {
			return ErrDuplicate
		}

		return bucket.Put(id[:], []byte(name))
	})
	if err != nil {
		return err
	}

	log.Infof("Registered %v script config %q at %v (id=%v)", c, name,
		kp, id)

	return nil
}
