package engine

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/btcsuite/hwcommander/verify"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// signFixture is a transaction spending a native and a nested single key
// input and one 1-of-2 multisig input to an external output and a change
// output.
type signFixture struct {
	init    *messages.BTCSignInitRequest
	inputs  []*messages.BTCSignInputRequest
	outputs []*messages.BTCSignOutputRequest
}

func newSignFixture(t *testing.T, e *Engine) *signFixture {
	t.Helper()

	ms := testMultisig(t, e)
	err := e.RegisterScriptConfig(
		t.Context(), coin.BTC, ms, kp(t, "m/48'/0'/0'/2'"), "vault",
	)
	require.NoError(t, err)

	return &signFixture{
		init: &messages.BTCSignInitRequest{
			Coin: coin.BTC,
			ScriptConfigs: []messages.ScriptConfigWithKeypath{
				{
					ScriptConfig: scriptconfig.Simple{
						Type: scriptconfig.P2WPKH,
					},
					Keypath: kp(t, "m/84'/0'/0'"),
				},
				{
					ScriptConfig: ms,
					Keypath:      kp(t, "m/48'/0'/0'/2'"),
				},
				{
					ScriptConfig: scriptconfig.Simple{
						Type: scriptconfig.P2WPKHP2SH,
					},
					Keypath: kp(t, "m/49'/0'/0'"),
				},
			},
			Version:    2,
			NumInputs:  3,
			NumOutputs: 2,
		},
		inputs: []*messages.BTCSignInputRequest{
			{
				PrevOutHash:  chainhash.Hash{0x01},
				PrevOutIndex: 0,
				PrevOutValue: 60_000,
				Sequence:     wire.MaxTxInSequenceNum,
				Keypath:      kp(t, "m/84'/0'/0'/0/1"),
			},
			{
				PrevOutHash:       chainhash.Hash{0x02},
				PrevOutIndex:      3,
				PrevOutValue:      50_000,
				Sequence:          wire.MaxTxInSequenceNum - 2,
				Keypath:           kp(t, "m/48'/0'/0'/2'/0/4"),
				ScriptConfigIndex: 1,
			},
			{
				PrevOutHash:       chainhash.Hash{0x03},
				PrevOutIndex:      1,
				PrevOutValue:      20_000,
				Sequence:          wire.MaxTxInSequenceNum,
				Keypath:           kp(t, "m/49'/0'/0'/0/2"),
				ScriptConfigIndex: 2,
			},
		},
		outputs: []*messages.BTCSignOutputRequest{
			{
				Type:    messages.BTCOutputTypeP2WPKH,
				Value:   70_000,
				Payload: bytes.Repeat([]byte{0x42}, 20),
			},
			{
				Ours:    true,
				Value:   59_000,
				Keypath: kp(t, "m/84'/0'/0'/1/0"),
			},
		},
	}
}

// run streams the whole fixture and returns the final response.
func (f *signFixture) run(t *testing.T,
	e *Engine) *messages.BTCSignNextResponse {

	t.Helper()

	next, err := e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	require.Equal(t, messages.SignNextInput, next.Type)
	require.Zero(t, next.Index)

	for i, in := range f.inputs {
		next, err = e.SignInput(t.Context(), in)
		require.NoError(t, err)

		if i < len(f.inputs)-1 {
			require.Equal(t, messages.SignNextInput, next.Type)
			require.EqualValues(t, i+1, next.Index)
		}
	}
	require.Equal(t, messages.SignNextOutput, next.Type)
	require.Zero(t, next.Index)

	for _, out := range f.outputs {
		next, err = e.SignOutput(t.Context(), out)
		require.NoError(t, err)
	}
	require.Equal(t, messages.SignNextDone, next.Type)

	return next
}

// TestSignTransaction signs a transaction and runs every input through the
// script engine.
func TestSignTransaction(t *testing.T) {
	t.Parallel()

	confirmer := approveAll()
	e := newTestEngine(t, confirmer)
	f := newSignFixture(t, e)
	registrationConfirms := 3

	done := f.run(t, e)
	require.Len(t, done.Signatures, 3)

	// One external output and the totals were confirmed.
	confirmer.AssertNumberOfCalls(
		t, "Confirm", registrationConfirms+2,
	)
	confirmer.AssertCalled(t, "Confirm", mock.Anything, verify.ConfirmParams{
		Title: "Bitcoin\ntotal",
		Body:  "Total: 0.00071000 BTC\nFee: 0.00001000 BTC",
	})

	// Rebuild the transaction the host would assemble.
	simpleScripts, err := e.ourScripts(
		&signSession{configs: f.init.ScriptConfigs,
			params: mustParams(t, coin.BTC)},
		0, f.inputs[0].Keypath,
	)
	require.NoError(t, err)
	multisigScripts, err := e.ourScripts(
		&signSession{configs: f.init.ScriptConfigs,
			params: mustParams(t, coin.BTC)},
		1, f.inputs[1].Keypath,
	)
	require.NoError(t, err)
	nestedScripts, err := e.ourScripts(
		&signSession{configs: f.init.ScriptConfigs,
			params: mustParams(t, coin.BTC)},
		2, f.inputs[2].Keypath,
	)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToScriptHash(nestedScripts.PkScript))
	changeScripts, err := e.ourScripts(
		&signSession{configs: f.init.ScriptConfigs,
			params: mustParams(t, coin.BTC)},
		0, f.outputs[1].Keypath,
	)
	require.NoError(t, err)

	external, err := btcutil.NewAddressWitnessPubKeyHash(
		f.outputs[0].Payload, mustParams(t, coin.BTC),
	)
	require.NoError(t, err)
	externalScript, err := txscript.PayToAddrScript(external)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	pkScripts := [][]byte{
		simpleScripts.PkScript, multisigScripts.PkScript,
		nestedScripts.PkScript,
	}
	for i, in := range f.inputs {
		op := wire.OutPoint{Hash: in.PrevOutHash, Index: in.PrevOutIndex}
		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)

		prevOuts.AddPrevOut(op, wire.NewTxOut(
			int64(in.PrevOutValue), pkScripts[i],
		))
	}
	tx.AddTxOut(wire.NewTxOut(70_000, externalScript))
	tx.AddTxOut(wire.NewTxOut(59_000, changeScripts.PkScript))

	pubKey, err := e.derivePubKey(f.inputs[0].Keypath)
	require.NoError(t, err)
	tx.TxIn[0].Witness = wire.TxWitness{
		done.Signatures[0], pubKey.SerializeCompressed(),
	}
	tx.TxIn[1].Witness = wire.TxWitness{
		nil, done.Signatures[1], multisigScripts.WitnessScript,
	}

	nestedPubKey, err := e.derivePubKey(f.inputs[2].Keypath)
	require.NoError(t, err)
	sigScript, err := txscript.NewScriptBuilder().
		AddData(nestedScripts.RedeemScript).Script()
	require.NoError(t, err)
	tx.TxIn[2].SignatureScript = sigScript
	tx.TxIn[2].Witness = wire.TxWitness{
		done.Signatures[2], nestedPubKey.SerializeCompressed(),
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i := range tx.TxIn {
		prevOut := prevOuts.FetchPrevOutput(tx.TxIn[i].PreviousOutPoint)
		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, prevOuts,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

func mustParams(t *testing.T, c coin.Coin) *chaincfg.Params {
	t.Helper()

	params, err := c.Params()
	require.NoError(t, err)

	return params
}

// TestSignSequence checks that steps out of order end the session.
func TestSignSequence(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, approveAll())
	f := newSignFixture(t, e)

	// No session yet.
	_, err := e.SignInput(t.Context(), f.inputs[0])
	require.ErrorIs(t, err, ErrNoSession)

	// An output before all inputs kills the session.
	_, err = e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	_, err = e.SignInput(t.Context(), f.inputs[0])
	require.NoError(t, err)
	_, err = e.SignOutput(t.Context(), f.outputs[0])
	require.ErrorIs(t, err, ErrNoSession)
	_, err = e.SignInput(t.Context(), f.inputs[1])
	require.ErrorIs(t, err, ErrNoSession)

	// After the final output nothing more is accepted.
	f.run(t, e)
	_, err = e.SignInput(t.Context(), f.inputs[0])
	require.ErrorIs(t, err, ErrNoSession)

	// ResetSign drops a session in progress.
	_, err = e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	e.ResetSign()
	_, err = e.SignInput(t.Context(), f.inputs[0])
	require.ErrorIs(t, err, ErrNoSession)
}

// TestSignRejects covers invalid sessions and user rejection.
func TestSignRejects(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, approveAll())
	f := newSignFixture(t, e)

	initWith := func(mod func(*messages.BTCSignInitRequest)) error {
		req := *f.init
		mod(&req)
		_, err := e.SignInit(t.Context(), &req)

		return err
	}

	require.ErrorIs(t, initWith(func(r *messages.BTCSignInitRequest) {
		r.NumInputs = 0
	}), ErrInvalidInput)
	require.ErrorIs(t, initWith(func(r *messages.BTCSignInitRequest) {
		r.NumOutputs = 0
	}), ErrInvalidInput)
	require.ErrorIs(t, initWith(func(r *messages.BTCSignInitRequest) {
		r.Version = 3
	}), ErrInvalidInput)
	require.ErrorIs(t, initWith(func(r *messages.BTCSignInitRequest) {
		r.ScriptConfigs = []messages.ScriptConfigWithKeypath{{
			ScriptConfig: testMultisig(t, e),
			Keypath:      kp(t, "m/48'/0'/1'/2'"),
		}}
	}), ErrInvalidInput)

	// An input outside its script config's account.
	_, err := e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	bad := *f.inputs[0]
	bad.Keypath = kp(t, "m/84'/0'/1'/0/1")
	_, err = e.SignInput(t.Context(), &bad)
	require.ErrorIs(t, err, ErrInvalidInput)

	// The same prevout twice.
	_, err = e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	_, err = e.SignInput(t.Context(), f.inputs[0])
	require.NoError(t, err)
	_, err = e.SignInput(t.Context(), f.inputs[0])
	require.ErrorIs(t, err, ErrInvalidInput)

	// Outputs larger than inputs.
	_, err = e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	for _, in := range f.inputs {
		_, err = e.SignInput(t.Context(), in)
		require.NoError(t, err)
	}
	_, err = e.SignOutput(t.Context(), f.outputs[0])
	require.NoError(t, err)
	greedy := *f.outputs[1]
	greedy.Value = 70_000
	_, err = e.SignOutput(t.Context(), &greedy)
	require.ErrorIs(t, err, ErrInvalidInput)
}

// TestSignUserAbort checks that rejecting an output aborts the session.
func TestSignUserAbort(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, approveAll())
	f := newSignFixture(t, e)

	external, err := btcutil.NewAddressWitnessPubKeyHash(
		f.outputs[0].Payload, mustParams(t, coin.BTC),
	)
	require.NoError(t, err)

	confirmer := &mockConfirmer{}
	confirmer.On("Confirm", mock.Anything, verify.ConfirmParams{
		Title: "Bitcoin\nsend",
		Body:  "0.00070000 BTC\n" + external.EncodeAddress(),
	}).Return(false, nil).Once()
	e.gate = verify.NewGate(confirmer, 0)

	_, err = e.SignInit(t.Context(), f.init)
	require.NoError(t, err)
	for _, in := range f.inputs {
		_, err = e.SignInput(t.Context(), in)
		require.NoError(t, err)
	}

	_, err = e.SignOutput(t.Context(), f.outputs[0])
	require.ErrorIs(t, err, ErrUserAbort)
	confirmer.AssertExpectations(t)

	_, err = e.SignOutput(t.Context(), f.outputs[1])
	require.ErrorIs(t, err, ErrNoSession)
}

// TestFormatAmount checks amount rendering.
func TestFormatAmount(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0.00000001 BTC", FormatAmount(coin.BTC, 1))
	require.Equal(t, "21000000.00000000 LTC",
		FormatAmount(coin.LTC, btcutil.MaxSatoshi))
	require.Equal(t, "1.50000000 TBTC",
		FormatAmount(coin.TBTC, 150_000_000))
}
