package commander

import (
	"testing"

	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/engine"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	signInit = &messages.BTCSignInitRequest{
		Coin:       coin.BTC,
		Version:    2,
		NumInputs:  2,
		NumOutputs: 1,
	}
	signInput0  = &messages.BTCSignInputRequest{PrevOutIndex: 0}
	signInput1  = &messages.BTCSignInputRequest{PrevOutIndex: 1}
	signOutput0 = &messages.BTCSignOutputRequest{Value: 1}

	nextInput0 = &messages.BTCSignNextResponse{
		Type: messages.SignNextInput,
	}
	nextInput1 = &messages.BTCSignNextResponse{
		Type:  messages.SignNextInput,
		Index: 1,
	}
	nextOutput0 = &messages.BTCSignNextResponse{
		Type: messages.SignNextOutput,
	}
	done = &messages.BTCSignNextResponse{
		Type:       messages.SignNextDone,
		Signatures: [][]byte{{0x30}, {0x30}},
	}
)

// TestSignSession streams a 2-input, 1-output transaction and checks the
// state after every step.
func TestSignSession(t *testing.T) {
	t.Parallel()

	c, e, _ := newTestCommander()

	// Arrange: the engine walks through both inputs and the output.
	e.On("SignInit", mock.Anything, signInit).Return(nextInput0, nil).Once()
	e.On("SignInput", mock.Anything, signInput0).Return(
		nextInput1, nil,
	).Once()
	e.On("SignInput", mock.Anything, signInput1).Return(
		nextOutput0, nil,
	).Once()
	e.On("SignOutput", mock.Anything, signOutput0).Return(done, nil).Once()

	// Act & Assert: every step announces the next one.
	require.Equal(t, nextInput0, c.Handle(t.Context(), signInit))
	require.Equal(t, stateAwaitingInput, c.state)

	require.Equal(t, nextInput1, c.Handle(t.Context(), signInput0))
	require.Equal(t, stateAwaitingInput, c.state)

	require.Equal(t, nextOutput0, c.Handle(t.Context(), signInput1))
	require.Equal(t, stateAwaitingOutput, c.state)

	require.Equal(t, done, c.Handle(t.Context(), signOutput0))
	require.Equal(t, stateIdle, c.state)

	// Act & Assert: an input after the final output is out of sequence
	// and never reaches the engine.
	requireCode(t, ErrGeneric, c.Handle(t.Context(), signInput0))
	e.AssertNumberOfCalls(t, "SignInput", 2)
	e.AssertExpectations(t)
}

// TestSignOutOfSequence checks that requests not matching the expected step
// are rejected before the engine sees them and end the session.
func TestSignOutOfSequence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  messages.Request
	}{
		{name: "output before inputs", req: signOutput0},
		{name: "second init", req: signInit},
		{
			name: "export during session",
			req: &messages.BTCPubRequest{
				Coin:    coin.BTC,
				Keypath: bip84Account,
				Output: messages.XPubOutput{
					Type: messages.XPubTypeXPUB,
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, e, _ := newTestCommander()
			e.On("SignInit", mock.Anything, signInit).Return(
				nextInput0, nil,
			).Once()

			require.Equal(t, nextInput0, c.Handle(t.Context(), signInit))

			requireCode(t, ErrGeneric, c.Handle(t.Context(), tc.req))
			require.Equal(t, stateIdle, c.state)
			e.AssertCalled(t, "ResetSign")
			e.AssertNotCalled(t, "SignOutput", mock.Anything,
				mock.Anything)
			e.AssertNotCalled(t, "XPub", mock.Anything, mock.Anything,
				mock.Anything)
			e.AssertNumberOfCalls(t, "SignInit", 1)

			// The session is gone: the input it expected is now
			// out of sequence as well.
			requireCode(t, ErrGeneric, c.Handle(t.Context(), signInput0))
			e.AssertNotCalled(t, "SignInput", mock.Anything,
				mock.Anything)
		})
	}
}

// TestSignFailures checks that engine failures end the session with the
// translated code.
func TestSignFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		next *messages.BTCSignNextResponse
		err  error
		code ErrorCode
	}{
		{
			name: "user abort",
			err:  engine.ErrUserAbort,
			code: ErrUserAbort,
		},
		{
			name: "invalid input",
			err:  engine.ErrInvalidInput,
			code: ErrInvalidInput,
		},
		{
			name: "engine failure",
			err:  errStorage,
			code: ErrGeneric,
		},
		{
			name: "no announcement",
			code: ErrGeneric,
		},
		{
			name: "engine announces done after an input",
			next: done,
			code: ErrGeneric,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, e, _ := newTestCommander()
			e.On("SignInit", mock.Anything, signInit).Return(
				nextInput0, nil,
			).Once()
			e.On("SignInput", mock.Anything, signInput0).Return(
				tc.next, tc.err,
			).Once()

			require.Equal(t, nextInput0, c.Handle(t.Context(), signInit))
			requireCode(t, tc.code, c.Handle(t.Context(), signInput0))
			require.Equal(t, stateIdle, c.state)
			e.AssertCalled(t, "ResetSign")

			// Nothing but a new init is accepted afterwards.
			requireCode(t, ErrGeneric, c.Handle(t.Context(), signInput1))
			e.AssertNumberOfCalls(t, "SignInput", 1)
		})
	}
}

// TestSignInitFailure checks that a failed init leaves the device idle.
func TestSignInitFailure(t *testing.T) {
	t.Parallel()

	c, e, _ := newTestCommander()
	e.On("SignInit", mock.Anything, signInit).Return(
		nil, engine.ErrInvalidInput,
	).Once()
	e.On("SignInit", mock.Anything, signInit).Return(nextInput0, nil).Once()

	requireCode(t, ErrInvalidInput, c.Handle(t.Context(), signInit))
	require.Equal(t, stateIdle, c.state)

	// A new init starts over.
	require.Equal(t, nextInput0, c.Handle(t.Context(), signInit))
	require.Equal(t, stateAwaitingInput, c.state)
}

// TestStateTransitions checks the accepted requests of every state.
func TestStateTransitions(t *testing.T) {
	t.Parallel()

	require.NoError(t, stateIdle.canHandle(messages.RequestTypeBTCPub))
	require.NoError(t, stateIdle.canHandle(messages.RequestTypeBTCSignInit))
	require.ErrorIs(t, stateIdle.canHandle(
		messages.RequestTypeBTCSignInput,
	), ErrOutOfSequence)
	require.ErrorIs(t, stateIdle.canHandle(
		messages.RequestTypeBTCSignOutput,
	), ErrOutOfSequence)

	require.NoError(t, stateAwaitingInput.canHandle(
		messages.RequestTypeBTCSignInput,
	))
	require.ErrorIs(t, stateAwaitingInput.canHandle(
		messages.RequestTypeBTCSignOutput,
	), ErrOutOfSequence)

	require.NoError(t, stateAwaitingOutput.canHandle(
		messages.RequestTypeBTCSignOutput,
	))
	require.ErrorIs(t, stateAwaitingOutput.canHandle(
		messages.RequestTypeBTCSignInput,
	), ErrOutOfSequence)
	require.ErrorIs(t, stateAwaitingOutput.canHandle(
		messages.RequestTypeBTCRegisterScriptConfig,
	), ErrOutOfSequence)

	state, err := nextState(
		messages.RequestTypeBTCSignOutput, messages.SignNextDone,
	)
	require.NoError(t, err)
	require.Equal(t, stateIdle, state)

	_, err = nextState(messages.RequestTypeBTCSignInit, messages.SignNextDone)
	require.ErrorIs(t, err, ErrOutOfSequence)

	_, err = nextState(
		messages.RequestTypeBTCSignOutput, messages.SignNextInput,
	)
	require.ErrorIs(t, err, ErrOutOfSequence)
}
