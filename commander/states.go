// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commander

import (
	"errors"
	"fmt"

	"github.com/btcsuite/hwcommander/messages"
)

var (
	// ErrOutOfSequence is returned when a request does not match the step
	// the signing session expects.
	ErrOutOfSequence = errors.New("request out of sequence")
)

// signState is the step a signing session expects next.
type signState uint8

const (
	// stateIdle means no signing session is active.
	stateIdle signState = iota

	// stateAwaitingInput means the next request must be a sign input.
	stateAwaitingInput

	// stateAwaitingOutput means the next request must be a sign output.
	stateAwaitingOutput
)

// String returns the string representation of a signState.
func (s signState) String() string {
	switch s {
	case stateIdle:
		return "idle"

	case stateAwaitingInput:
		return "awaiting input"

	case stateAwaitingOutput:
		return "awaiting output"

	default:
		return "unknown sign state"
	}
}

// canHandle checks if a request of type t may be processed in state s.
// While a session is active only the announced step is accepted.
func (s signState) canHandle(t messages.RequestType) error {
	var ok bool
	switch s {
	case stateIdle:
		ok = t != messages.RequestTypeBTCSignInput &&
			t != messages.RequestTypeBTCSignOutput

	case stateAwaitingInput:
		ok = t == messages.RequestTypeBTCSignInput

	case stateAwaitingOutput:
		ok = t == messages.RequestTypeBTCSignOutput
	}

	if !ok {
		return fmt.Errorf("%w: %v while %v", ErrOutOfSequence, t, s)
	}

	return nil
}

// nextState returns the state following a successful step of type t that
// announced the given next step. Announcements that would move the session
// backwards are refused.
func nextState(t messages.RequestType,
	step messages.SignNextType) (signState, error) {

	var allowed []messages.SignNextType
	switch t {
	case messages.RequestTypeBTCSignInit:
		allowed = []messages.SignNextType{
			messages.SignNextInput, messages.SignNextOutput,
		}

	case messages.RequestTypeBTCSignInput:
		allowed = []messages.SignNextType{
			messages.SignNextInput, messages.SignNextOutput,
		}

	case messages.RequestTypeBTCSignOutput:
		allowed = []messages.SignNextType{
			messages.SignNextOutput, messages.SignNextDone,
		}
	}

	for _, a := range allowed {
		if a != step {
			continue
		}

		switch step {
		case messages.SignNextInput:
			return stateAwaitingInput, nil

		case messages.SignNextOutput:
			return stateAwaitingOutput, nil

		default:
			return stateIdle, nil
		}
	}

	return stateIdle, fmt.Errorf("%w: %v announced %v",
		ErrOutOfSequence, t, step)
}
