// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package verify implements the on-device confirmation of derived addresses,
// public keys and transaction details.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/scriptconfig"
)

// TitleBufferSize is the size of the device's title buffer, including the
// terminating zero byte. A title must fit strictly below it.
const TitleBufferSize = 100

var (
	// ErrTitleTooLong is returned when a formatted title would not fit
	// the display buffer.
	ErrTitleTooLong = errors.New("title does not fit display buffer")

	// ErrTitleFormat is returned when formatting a title failed or left
	// unsubstituted directives.
	ErrTitleFormat = errors.New("title formatting failed")

	// ErrRejected is returned when the user rejected the confirmation or
	// it timed out.
	ErrRejected = errors.New("rejected by user")
)

// ConfirmParams is what the display engine renders for one confirmation.
type ConfirmParams struct {
	// Title is a short, pre-validated headline of at most two lines.
	Title string

	// Body is the value under confirmation, e.g. an address.
	Body string
}

// Confirmer is the display and input engine of the device. Confirm blocks
// until the user approves (true) or rejects (false). It must return
// ctx.Err() if the context is done first.
type Confirmer interface {
	Confirm(ctx context.Context, params ConfirmParams) (bool, error)
}

// FormatTitle formats a title and fails instead of ever producing truncated
// or partially substituted text.
func FormatTitle(format string, args ...any) (string, error) {
	title := fmt.Sprintf(format, args...)

	// fmt reports bad verbs, missing and extra operands inline with a
	// "%!" marker rather than through an error.
	if strings.Contains(title, "%!") {
		return "", fmt.Errorf("%w: %q", ErrTitleFormat, title)
	}

	if len(title) >= TitleBufferSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTitleTooLong,
			len(title))
	}

	return title, nil
}

// XPubTitle returns "<coin name>\naccount #<N>" where N is the one-based
// account number of the keypath.
func XPubTitle(coinName string, kp keypath.Keypath) (string, error) {
	account, err := kp.Account()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTitleFormat, err)
	}

	return FormatTitle("%s\naccount #%d", coinName, uint64(account)+1)
}

// SimpleAddressTitle returns the title shown when verifying a single key
// address of the given type.
func SimpleAddressTitle(coinName string,
	t scriptconfig.SimpleType) (string, error) {

	switch t {
	case scriptconfig.P2WPKHP2SH:
		return FormatTitle("%s", coinName)

	case scriptconfig.P2WPKH:
		return FormatTitle("%s bech32", coinName)

	default:
		return "", fmt.Errorf("%w: %w", ErrTitleFormat,
			scriptconfig.ErrUnknownSimpleType)
	}
}

// Gate blocks an operation on the user's approval of a value.
type Gate struct {
	confirmer Confirmer
	timeout   time.Duration
}

// NewGate returns a gate asking confirmer. A positive timeout bounds each
// confirmation; an expired confirmation counts as a rejection.
func NewGate(confirmer Confirmer, timeout time.Duration) *Gate {
	return &Gate{
		confirmer: confirmer,
		timeout:   timeout,
	}
}

// Verify shows title and body and waits for the user. It returns nil if the
// user approved and ErrRejected if the user rejected or did not answer in
// time. The title is checked once more so that nothing unbounded ever
// reaches the display.
func (g *Gate) Verify(ctx context.Context, title, body string) error {
	if len(title) >= TitleBufferSize {
		return fmt.Errorf("%w: %d bytes", ErrTitleTooLong, len(title))
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	approved, err := g.confirmer.Confirm(ctx, ConfirmParams{
		Title: title,
		Body:  body,
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Infof("Confirmation %q timed out", title)
		return ErrRejected

	case err != nil:
		return fmt.Errorf("confirm %q: %w", title, err)

	case !approved:
		log.Debugf("User rejected %q", title)
		return ErrRejected
	}

	log.Debugf("User approved %q", title)

	return nil
}
