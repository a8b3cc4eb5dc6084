// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keypath implements BIP-32 derivation paths as sent by the host.
package keypath

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// HardenedOffset is added to an index to mark it as hardened.
const HardenedOffset = hdkeychain.HardenedKeyStart

var (
	// ErrInvalidKeypath is returned when a keypath cannot be parsed or
	// does not match the expected template.
	ErrInvalidKeypath = errors.New("invalid keypath")
)

// Keypath is an ordered list of derivation indices starting at the master
// key.
type Keypath []uint32

// Hardened returns the hardened form of index i.
func Hardened(i uint32) uint32 {
	return i + HardenedOffset
}

// IsHardened returns true if the element at position i exists and is
// hardened.
func (k Keypath) IsHardened(i int) bool {
	return i >= 0 && i < len(k) && k[i] >= HardenedOffset
}

// Account returns the unhardened account index, which is the third element
// of a BIP-44 style path.
func (k Keypath) Account() (uint32, error) {
	if !k.IsHardened(2) {
		return 0, fmt.Errorf("%w: no hardened account element in %v",
			ErrInvalidKeypath, k)
	}

	return k[2] - HardenedOffset, nil
}

// HasPrefix returns true if prefix is a leading sub-path of k.
func (k Keypath) HasPrefix(prefix Keypath) bool {
	if len(prefix) > len(k) {
		return false
	}

	for i, idx := range prefix {
		if k[i] != idx {
			return false
		}
	}

	return true
}

// Equal returns true if both keypaths have the same elements.
func (k Keypath) Equal(other Keypath) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// Bytes returns the big endian encoding of the indices.
func (k Keypath) Bytes() []byte {
	b := make([]byte, 4*len(k))
	for i, idx := range k {
		binary.BigEndian.PutUint32(b[4*i:], idx)
	}

	return b
}

// FromBytes decodes a keypath encoded by Bytes.
func FromBytes(b []byte) (Keypath, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: encoded length %d", ErrInvalidKeypath,
			len(b))
	}

	k := make(Keypath, len(b)/4)
	for i := range k {
		k[i] = binary.BigEndian.Uint32(b[4*i:])
	}

	return k, nil
}

// String returns the path in "m/84'/0'/0'/0/1" notation.
func (k Keypath) String() string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, idx := range k {
		sb.WriteString("/")
		if idx >= HardenedOffset {
			sb.WriteString(strconv.FormatUint(
				uint64(idx-HardenedOffset), 10,
			))
			sb.WriteString("'")

			continue
		}

		sb.WriteString(strconv.FormatUint(uint64(idx), 10))
	}

	return sb.String()
}

// Parse parses a path in "m/84'/0'/0'" notation. Both ' and h mark hardened
// elements.
func Parse(s string) (Keypath, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q must start with m",
			ErrInvalidKeypath, s)
	}

	k := make(Keypath, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") ||
			strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}

		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || idx >= uint64(HardenedOffset) {
			return nil, fmt.Errorf("%w: element %q", ErrInvalidKeypath,
				part)
		}

		if hardened {
			idx += uint64(HardenedOffset)
		}
		k = append(k, uint32(idx))
	}

	return k, nil
}
