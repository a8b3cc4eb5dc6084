// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	litecoinCfg "github.com/ltcsuite/ltcd/chaincfg"
)

var (
	// ErrUnknownCoin is returned when a coin identifier is outside of the
	// supported set.
	ErrUnknownCoin = errors.New("unknown coin")
)

// Coin identifies one of the supported Bitcoin-family networks.
type Coin uint8

const (
	// BTC is Bitcoin mainnet.
	BTC Coin = iota

	// TBTC is Bitcoin testnet3.
	TBTC

	// LTC is Litecoin mainnet.
	LTC

	// TLTC is Litecoin testnet4.
	TLTC

	// numCoins is the number of known coins. It must stay the last
	// constant.
	numCoins
)

// All returns every supported coin in identifier order.
func All() []Coin {
	coins := make([]Coin, 0, numCoins)
	for c := range numCoins {
		coins = append(coins, c)
	}

	return coins
}

// info bundles the static properties of a coin.
type info struct {
	ticker   string
	name     string
	unit     string
	coinType uint32
	params   *chaincfg.Params
}

var (
	litecoinMainNetParams = applyLitecoinParams(
		chaincfg.MainNetParams, &litecoinCfg.MainNetParams,
	)

	litecoinTestNetParams = applyLitecoinParams(
		chaincfg.TestNet3Params, &litecoinCfg.TestNet4Params,
	)

	coins = [numCoins]info{
		BTC: {
			ticker:   "btc",
			name:     "Bitcoin",
			unit:     "BTC",
			coinType: 0,
			params:   &chaincfg.MainNetParams,
		},
		TBTC: {
			ticker:   "tbtc",
			name:     "BTC Testnet",
			unit:     "TBTC",
			coinType: 1,
			params:   &chaincfg.TestNet3Params,
		},
		LTC: {
			ticker:   "ltc",
			name:     "Litecoin",
			unit:     "LTC",
			coinType: 2,
			params:   &litecoinMainNetParams,
		},
		TLTC: {
			ticker:   "tltc",
			name:     "LTC Testnet",
			unit:     "TLTC",
			coinType: 1,
			params:   &litecoinTestNetParams,
		},
	}
)

// applyLitecoinParams overlays the litecoin address and key encoding magics
// onto a copy of the given btcd parameters, so that the btcsuite address and
// hdkeychain packages can encode litecoin values.
func applyLitecoinParams(params chaincfg.Params,
	ltc *litecoinCfg.Params) chaincfg.Params {

	params.Name = ltc.Name
	params.Net = wire.BitcoinNet(ltc.Net)
	params.DefaultPort = ltc.DefaultPort

	params.PubKeyHashAddrID = ltc.PubKeyHashAddrID
	params.ScriptHashAddrID = ltc.ScriptHashAddrID
	params.PrivateKeyID = ltc.PrivateKeyID
	params.WitnessPubKeyHashAddrID = ltc.WitnessPubKeyHashAddrID
	params.WitnessScriptHashAddrID = ltc.WitnessScriptHashAddrID
	params.Bech32HRPSegwit = ltc.Bech32HRPSegwit

	copy(params.HDPrivateKeyID[:], ltc.HDPrivateKeyID[:])
	copy(params.HDPublicKeyID[:], ltc.HDPublicKeyID[:])
	params.HDCoinType = ltc.HDCoinType

	return params
}

// Valid returns true if c is a known coin.
func (c Coin) Valid() bool {
	return c < numCoins
}

// String returns the lowercase ticker of the coin.
func (c Coin) String() string {
	if !c.Valid() {
		return fmt.Sprintf("coin(%d)", uint8(c))
	}

	return coins[c].ticker
}

// Name returns the human readable coin name shown on the device.
func (c Coin) Name() string {
	if !c.Valid() {
		return ""
	}

	return coins[c].name
}

// Unit returns the amount unit shown next to values of this coin.
func (c Coin) Unit() string {
	if !c.Valid() {
		return ""
	}

	return coins[c].unit
}

// CoinType returns the unhardened BIP-44 coin type of the coin.
func (c Coin) CoinType() (uint32, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCoin, uint8(c))
	}

	return coins[c].coinType, nil
}

// Params returns the chain parameters used to encode addresses and extended
// keys of the coin.
func (c Coin) Params() (*chaincfg.Params, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCoin, uint8(c))
	}

	return coins[c].params, nil
}

// Parse returns the coin identified by its ticker, e.g. "btc" or "tltc".
func Parse(ticker string) (Coin, error) {
	ticker = strings.ToLower(strings.TrimSpace(ticker))
	for c := range numCoins {
		if coins[c].ticker == ticker {
			return c, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownCoin, ticker)
}
