// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scriptconfig describes the output script configurations a device
// can receive on and sign for: single key witness scripts and P2WSH
// multisig.
package scriptconfig

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrInvalidConfig is returned when a script configuration is
	// malformed.
	ErrInvalidConfig = errors.New("invalid script config")

	// ErrUnknownSimpleType is returned for a simple type outside of the
	// supported set.
	ErrUnknownSimpleType = errors.New("unknown simple script type")
)

// Kind is the discriminant of a Config.
type Kind uint8

const (
	// KindSimple is a single key script.
	KindSimple Kind = iota

	// KindMultisig is a P2WSH multisig script.
	KindMultisig
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"

	case KindMultisig:
		return "multisig"

	default:
		return "unknown"
	}
}

// Config is a script configuration. The set of implementations is closed:
// Simple and *Multisig.
type Config interface {
	// Kind returns the discriminant of the configuration.
	Kind() Kind

	// Validate checks the configuration for structural errors.
	Validate() error

	// isConfig seals the interface.
	isConfig()
}

// Scripts bundles the scripts belonging to one derived output.
type Scripts struct {
	// Address is the encoded address of the output.
	Address btcutil.Address

	// PkScript is the output script.
	PkScript []byte

	// RedeemScript is set for P2SH wrapped outputs.
	RedeemScript []byte

	// WitnessScript is set for P2WSH outputs.
	WitnessScript []byte
}

// SignScript returns the script that is committed to by a BIP-143 signature
// hash for this output.
func (s *Scripts) SignScript() []byte {
	switch {
	case len(s.WitnessScript) > 0:
		return s.WitnessScript

	case len(s.RedeemScript) > 0:
		return s.RedeemScript

	default:
		return s.PkScript
	}
}

// SimpleType enumerates the single key script types.
type SimpleType uint8

const (
	// P2WPKHP2SH is a P2WPKH output nested in P2SH.
	P2WPKHP2SH SimpleType = 0

	// P2WPKH is a native segwit v0 single key output.
	P2WPKH SimpleType = 1
)

// String returns the name of the script type.
func (t SimpleType) String() string {
	switch t {
	case P2WPKHP2SH:
		return "p2wpkh-p2sh"

	case P2WPKH:
		return "p2wpkh"

	default:
		return fmt.Sprintf("simpletype(%d)", uint8(t))
	}
}

// Purpose returns the unhardened BIP-44 purpose of the script type.
func (t SimpleType) Purpose() (uint32, error) {
	switch t {
	case P2WPKHP2SH:
		return 49, nil

	case P2WPKH:
		return 84, nil

	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownSimpleType, uint8(t))
	}
}

// Simple is a single key script configuration.
type Simple struct {
	Type SimpleType
}

// A compile time check to ensure Simple implements Config.
var _ Config = Simple{}

// Kind returns KindSimple.
func (Simple) Kind() Kind {
	return KindSimple
}

func (Simple) isConfig() {}

// Validate checks that the simple type is known.
func (s Simple) Validate() error {
	_, err := s.Type.Purpose()
	return err
}

// Scripts returns the output scripts paying to pubKey.
func (s Simple) Scripts(pubKey *btcec.PublicKey,
	params *chaincfg.Params) (*Scripts, error) {

	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())
	witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return nil, err
	}

	witnessProgram, err := txscript.PayToAddrScript(witnessAddr)
	if err != nil {
		return nil, err
	}

	switch s.Type {
	case P2WPKH:
		return &Scripts{
			Address:  witnessAddr,
			PkScript: witnessProgram,
		}, nil

	case P2WPKHP2SH:
		addr, err := btcutil.NewAddressScriptHash(witnessProgram, params)
		if err != nil {
			return nil, err
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		return &Scripts{
			Address:      addr,
			PkScript:     pkScript,
			RedeemScript: witnessProgram,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownSimpleType,
			uint8(s.Type))
	}
}
