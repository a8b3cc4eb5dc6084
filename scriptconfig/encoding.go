// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scriptconfig

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// xpubLen is the length of an encoded cosigner key: depth, parent
// fingerprint, child number, chain code and compressed public key.
const xpubLen = 1 + 4 + 4 + 32 + 33

// Encode returns the canonical binary form of a configuration. It keeps the
// full cosigner key metadata so that Decode restores the same keys, and the
// version bytes are the only part that is dropped. Use Identity to compare
// configurations by the scripts they produce.
func Encode(cfg Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(cfg.Kind()))

	switch c := cfg.(type) {
	case Simple:
		buf.WriteByte(byte(c.Type))

	case *Multisig:
		if c == nil || len(c.XPubs) > MaxCosigners {
			return nil, fmt.Errorf("%w: bad multisig", ErrInvalidConfig)
		}

		var scratch [4]byte
		binary.BigEndian.PutUint32(scratch[:], c.Threshold)
		buf.Write(scratch[:])
		binary.BigEndian.PutUint32(scratch[:], c.OurXPubIndex)
		buf.Write(scratch[:])
		buf.WriteByte(byte(len(c.XPubs)))

		for i, xpub := range c.XPubs {
			if xpub == nil {
				return nil, fmt.Errorf("%w: xpub %d missing",
					ErrInvalidConfig, i)
			}

			pubKey, err := xpub.ECPubKey()
			if err != nil {
				return nil, fmt.Errorf("%w: xpub %d: %w",
					ErrInvalidConfig, i, err)
			}

			buf.WriteByte(xpub.Depth())
			binary.BigEndian.PutUint32(
				scratch[:], xpub.ParentFingerprint(),
			)
			buf.Write(scratch[:])
			binary.BigEndian.PutUint32(scratch[:], xpub.ChildIndex())
			buf.Write(scratch[:])
			buf.Write(xpub.ChainCode())
			buf.Write(pubKey.SerializeCompressed())
		}

	default:
		return nil, fmt.Errorf("%w: unknown kind %v", ErrInvalidConfig,
			cfg.Kind())
	}

	return buf.Bytes(), nil
}

// Identity returns the bytes that identify a configuration by the scripts it
// produces: the kind and, for multisig, the threshold, our index and the
// chain code and public key of every cosigner. Depth, parent fingerprint,
// child number and version bytes of the cosigner keys are not included, so
// two configs that derive the same scripts always have the same identity.
func Identity(cfg Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(cfg.Kind()))

	switch c := cfg.(type) {
	case Simple:
		buf.WriteByte(byte(c.Type))

	case *Multisig:
		if c == nil || len(c.XPubs) > MaxCosigners {
			return nil, fmt.Errorf("%w: bad multisig", ErrInvalidConfig)
		}

		var scratch [4]byte
		binary.BigEndian.PutUint32(scratch[:], c.Threshold)
		buf.Write(scratch[:])
		binary.BigEndian.PutUint32(scratch[:], c.OurXPubIndex)
		buf.Write(scratch[:])
		buf.WriteByte(byte(len(c.XPubs)))

		for i, xpub := range c.XPubs {
			if xpub == nil {
				return nil, fmt.Errorf("%w: xpub %d missing",
					ErrInvalidConfig, i)
			}

			pubKey, err := xpub.ECPubKey()
			if err != nil {
				return nil, fmt.Errorf("%w: xpub %d: %w",
					ErrInvalidConfig, i, err)
			}

			buf.Write(xpub.ChainCode())
			buf.Write(pubKey.SerializeCompressed())
		}

	default:
		return nil, fmt.Errorf("%w: unknown kind %v", ErrInvalidConfig,
			cfg.Kind())
	}

	return buf.Bytes(), nil
}

// Decode parses a configuration produced by Encode. Cosigner keys are
// returned with mainnet xpub version bytes.
func Decode(b []byte) (Config, error) {
	r := bytes.NewReader(b)

	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty", ErrInvalidConfig)
	}

	var cfg Config
	switch Kind(kind) {
	case KindSimple:
		t, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: missing simple type",
				ErrInvalidConfig)
		}
		cfg = Simple{Type: SimpleType(t)}

	case KindMultisig:
		cfg, err = decodeMultisig(r)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidConfig,
			kind)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidConfig,
			r.Len())
	}

	return cfg, nil
}

func decodeMultisig(r *bytes.Reader) (*Multisig, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: short multisig header",
			ErrInvalidConfig)
	}

	m := &Multisig{
		Threshold:    binary.BigEndian.Uint32(header[0:4]),
		OurXPubIndex: binary.BigEndian.Uint32(header[4:8]),
	}

	count := int(header[8])
	if count > MaxCosigners {
		return nil, fmt.Errorf("%w: %d cosigners", ErrInvalidConfig,
			count)
	}

	version := chaincfg.MainNetParams.HDPublicKeyID[:]
	for i := range count {
		var raw [xpubLen]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, fmt.Errorf("%w: short xpub %d",
				ErrInvalidConfig, i)
		}

		xpub := hdkeychain.NewExtendedKey(
			version, raw[41:], raw[9:41], raw[1:5], raw[0],
			binary.BigEndian.Uint32(raw[5:9]), false,
		)

		// Reject points that are not on the curve right away.
		if _, err := xpub.ECPubKey(); err != nil {
			return nil, fmt.Errorf("%w: xpub %d: %w", ErrInvalidConfig,
				i, err)
		}

		m.XPubs = append(m.XPubs, xpub)
	}

	return m, nil
}
