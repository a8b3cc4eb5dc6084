// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scriptconfig

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// MinCosigners is the smallest cosigner set a multisig may have.
	MinCosigners = 2

	// MaxCosigners is the largest cosigner set that still yields a
	// standard P2WSH witness script.
	MaxCosigners = 15
)

// Multisig is a P2WSH multisig configuration. The cosigner order is
// significant: public keys appear in the witness script in XPubs order.
type Multisig struct {
	// Threshold is the number of signatures required to spend.
	Threshold uint32

	// XPubs are the account level extended public keys of all cosigners,
	// including our own.
	XPubs []*hdkeychain.ExtendedKey

	// OurXPubIndex is the position of the device's own xpub in XPubs.
	OurXPubIndex uint32
}

// A compile time check to ensure *Multisig implements Config.
var _ Config = (*Multisig)(nil)

// Kind returns KindMultisig.
func (*Multisig) Kind() Kind {
	return KindMultisig
}

func (*Multisig) isConfig() {}

// Validate checks threshold and cosigner constraints.
func (m *Multisig) Validate() error {
	n := len(m.XPubs)
	if n < MinCosigners || n > MaxCosigners {
		return fmt.Errorf("%w: %d cosigners, expected %d..%d",
			ErrInvalidConfig, n, MinCosigners, MaxCosigners)
	}

	if m.Threshold == 0 || m.Threshold > uint32(n) {
		return fmt.Errorf("%w: threshold %d of %d cosigners",
			ErrInvalidConfig, m.Threshold, n)
	}

	if m.OurXPubIndex >= uint32(n) {
		return fmt.Errorf("%w: our xpub index %d out of range",
			ErrInvalidConfig, m.OurXPubIndex)
	}

	for i, xpub := range m.XPubs {
		if xpub == nil {
			return fmt.Errorf("%w: xpub %d missing", ErrInvalidConfig,
				i)
		}

		if xpub.IsPrivate() {
			return fmt.Errorf("%w: xpub %d is a private key",
				ErrInvalidConfig, i)
		}

		for j := range i {
			if SameXPub(xpub, m.XPubs[j]) {
				return fmt.Errorf("%w: xpubs %d and %d are "+
					"identical", ErrInvalidConfig, j, i)
			}
		}
	}

	return nil
}

// OurXPub returns the device's own cosigner key.
func (m *Multisig) OurXPub() (*hdkeychain.ExtendedKey, error) {
	if m.OurXPubIndex >= uint32(len(m.XPubs)) {
		return nil, fmt.Errorf("%w: our xpub index %d out of range",
			ErrInvalidConfig, m.OurXPubIndex)
	}

	return m.XPubs[m.OurXPubIndex], nil
}

// WitnessScript returns the multisig witness script for the receive (0) or
// change (1) chain at the given address index.
func (m *Multisig) WitnessScript(change, index uint32) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(m.Threshold))
	for i, xpub := range m.XPubs {
		branch, err := xpub.Derive(change)
		if err != nil {
			return nil, fmt.Errorf("cosigner %d: %w", i, err)
		}

		child, err := branch.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("cosigner %d: %w", i, err)
		}

		pubKey, err := child.ECPubKey()
		if err != nil {
			return nil, fmt.Errorf("cosigner %d: %w", i, err)
		}

		builder.AddData(pubKey.SerializeCompressed())
	}
	builder.AddInt64(int64(len(m.XPubs)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	return builder.Script()
}

// Scripts returns the P2WSH output scripts for the given chain and index.
func (m *Multisig) Scripts(change, index uint32,
	params *chaincfg.Params) (*Scripts, error) {

	witnessScript, err := m.WitnessScript(change, index)
	if err != nil {
		return nil, err
	}

	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], params,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &Scripts{
		Address:       addr,
		PkScript:      pkScript,
		WitnessScript: witnessScript,
	}, nil
}

// SameXPub returns true if both keys share public key and chain code. The
// version bytes, depth and parent fingerprint do not change the derived
// scripts and are ignored.
func SameXPub(a, b *hdkeychain.ExtendedKey) bool {
	if a == nil || b == nil {
		return false
	}

	aPub, err := a.ECPubKey()
	if err != nil {
		return false
	}

	bPub, err := b.ECPubKey()
	if err != nil {
		return false
	}

	return aPub.IsEqual(bPub) && bytes.Equal(a.ChainCode(), b.ChainCode())
}
