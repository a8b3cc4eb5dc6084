// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coin

// Policy decides which coins this device build serves. Every handler that
// touches a coin must consult the policy before doing any derivation, display
// or storage work.
//
// The zero value enables nothing.
type Policy struct {
	enabled [numCoins]bool
}

// NewPolicy returns a policy enabling exactly the given coins. Unknown coins
// are ignored.
func NewPolicy(enabled ...Coin) *Policy {
	p := &Policy{}
	for _, c := range enabled {
		if !c.Valid() {
			log.Warnf("Ignoring unknown coin %v", c)
			continue
		}

		p.enabled[c] = true
	}

	return p
}

// DefaultPolicy returns a policy with every supported coin enabled.
func DefaultPolicy() *Policy {
	return NewPolicy(All()...)
}

// IsEnabled returns true if the coin is known and enabled.
func (p *Policy) IsEnabled(c Coin) bool {
	if p == nil || !c.Valid() {
		return false
	}

	return p.enabled[c]
}

// Enabled lists the enabled coins in identifier order.
func (p *Policy) Enabled() []Coin {
	var coins []Coin
	for _, c := range All() {
		if p.IsEnabled(c) {
			coins = append(coins, c)
		}
	}

	return coins
}
