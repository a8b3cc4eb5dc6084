// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/btcsuite/hwcommander/verify"
)

// signInput is what the engine needs to sign one input once all outputs
// are known.
type signInput struct {
	keypath    keypath.Keypath
	signScript []byte
	value      int64
}

// signSession is the state of one streamed signing session.
type signSession struct {
	coin    coin.Coin
	params  *chaincfg.Params
	configs []messages.ScriptConfigWithKeypath

	numInputs  uint32
	numOutputs uint32

	tx       *wire.MsgTx
	prevOuts *txscript.MultiPrevOutFetcher
	inputs   []signInput

	inputSum    btcutil.Amount
	outputSum   btcutil.Amount
	externalSum btcutil.Amount
}

// next returns the step the host has to send next.
func (s *signSession) next() *messages.BTCSignNextResponse {
	if uint32(len(s.tx.TxIn)) < s.numInputs {
		return &messages.BTCSignNextResponse{
			Type:  messages.SignNextInput,
			Index: uint32(len(s.tx.TxIn)),
		}
	}

	return &messages.BTCSignNextResponse{
		Type:  messages.SignNextOutput,
		Index: uint32(len(s.tx.TxOut)),
	}
}

// ResetSign discards the active signing session, if any.
func (e *Engine) ResetSign() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		log.Debugf("Discarding signing session")
	}
	e.session = nil
}

// takeSession removes the active session so that a failing step leaves the
// engine idle. The caller puts it back on success.
func (e *Engine) takeSession() (*signSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	e.session = nil
	if s == nil {
		return nil, ErrNoSession
	}

	return s, nil
}

func (e *Engine) putSession(s *signSession) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session = s
}

// SignInit validates the transaction metadata and starts a new session. Any
// previous session is discarded.
func (e *Engine) SignInit(ctx context.Context,
	req *messages.BTCSignInitRequest) (*messages.BTCSignNextResponse,
	error) {

	e.ResetSign()

	params, err := e.checkCoin(req.Coin)
	if err != nil {
		return nil, err
	}

	switch {
	case req.NumInputs == 0:
		return nil, fmt.Errorf("%w: transaction without inputs",
			ErrInvalidInput)

	case req.NumOutputs == 0:
		return nil, fmt.Errorf("%w: transaction without outputs",
			ErrInvalidInput)

	case req.Version != 1 && req.Version != 2:
		return nil, fmt.Errorf("%w: transaction version %d",
			ErrInvalidInput, req.Version)

	case len(req.ScriptConfigs) == 0:
		return nil, fmt.Errorf("%w: no script configs", ErrInvalidInput)
	}

	for i, sc := range req.ScriptConfigs {
		if err := e.checkSignConfig(req.Coin, sc); err != nil {
			return nil, fmt.Errorf("script config %d: %w", i, err)
		}
	}

	if req.Locktime != 0 {
		title, err := verify.FormatTitle("%s\nlocktime", req.Coin.Name())
		if err != nil {
			return nil, err
		}

		body := fmt.Sprintf("Locktime: %d", req.Locktime)
		if err := e.gate.Verify(ctx, title, body); err != nil {
			return nil, gateErr(err)
		}
	}

	tx := wire.NewMsgTx(int32(req.Version))
	tx.LockTime = req.Locktime

	s := &signSession{
		coin:       req.Coin,
		params:     params,
		configs:    req.ScriptConfigs,
		numInputs:  req.NumInputs,
		numOutputs: req.NumOutputs,
		tx:         tx,
		prevOuts:   txscript.NewMultiPrevOutFetcher(nil),
	}
	e.putSession(s)

	log.Debugf("Started %v signing session with %d inputs and %d "+
		"outputs", req.Coin, req.NumInputs, req.NumOutputs)

	return s.next(), nil
}

// checkSignConfig validates a script config a transaction may spend from
// or send change to.
func (e *Engine) checkSignConfig(c coin.Coin,
	sc messages.ScriptConfigWithKeypath) error {

	switch cfg := sc.ScriptConfig.(type) {
	case scriptconfig.Simple:
		purpose, err := cfg.Type.Purpose()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		if len(sc.Keypath) != 3 {
			return fmt.Errorf("%w: account keypath %v",
				ErrInvalidInput, sc.Keypath)
		}

		return validateAccount(c, sc.Keypath, purpose)

	case *scriptconfig.Multisig:
		if _, err := e.checkMultisig(c, cfg, sc.Keypath); err != nil {
			return err
		}

		registered, err := e.registry.IsRegistered(c, cfg, sc.Keypath)
		if err != nil {
			return registryErr(err)
		}
		if !registered {
			return fmt.Errorf("%w: multisig config at %v is not "+
				"registered", ErrInvalidInput, sc.Keypath)
		}

		return nil

	default:
		return fmt.Errorf("%w: script config %T", ErrInvalidInput,
			sc.ScriptConfig)
	}
}

// ourScripts derives the scripts of a device owned input or change output.
func (e *Engine) ourScripts(s *signSession, configIndex uint32,
	kp keypath.Keypath) (*scriptconfig.Scripts, error) {

	if configIndex >= uint32(len(s.configs)) {
		return nil, fmt.Errorf("%w: script config index %d",
			ErrInvalidInput, configIndex)
	}
	sc := s.configs[configIndex]

	if !kp.HasPrefix(sc.Keypath) {
		return nil, fmt.Errorf("%w: keypath %v not below %v",
			ErrInvalidInput, kp, sc.Keypath)
	}
	if err := validateChangeIndex(kp, len(sc.Keypath)); err != nil {
		return nil, err
	}

	switch cfg := sc.ScriptConfig.(type) {
	case scriptconfig.Simple:
		pubKey, err := e.derivePubKey(kp)
		if err != nil {
			return nil, err
		}

		return cfg.Scripts(pubKey, s.params)

	case *scriptconfig.Multisig:
		n := len(kp)
		return cfg.Scripts(kp[n-2], kp[n-1], s.params)

	default:
		return nil, fmt.Errorf("%w: script config %T", ErrInvalidInput,
			sc.ScriptConfig)
	}
}

// addAmount adds v to sum, failing on amounts no transaction can carry.
func addAmount(sum btcutil.Amount, v uint64) (btcutil.Amount, error) {
	if v > btcutil.MaxSatoshi {
		return 0, fmt.Errorf("%w: amount %d", ErrInvalidInput, v)
	}

	total := sum + btcutil.Amount(v)
	if total > btcutil.MaxSatoshi {
		return 0, fmt.Errorf("%w: amounts exceed %v", ErrInvalidInput,
			btcutil.Amount(btcutil.MaxSatoshi))
	}

	return total, nil
}

// SignInput adds the next input to the session.
func (e *Engine) SignInput(_ context.Context,
	req *messages.BTCSignInputRequest) (*messages.BTCSignNextResponse,
	error) {

	s, err := e.takeSession()
	if err != nil {
		return nil, err
	}

	if uint32(len(s.tx.TxIn)) >= s.numInputs {
		return nil, fmt.Errorf("%w: all %d inputs received",
			ErrNoSession, s.numInputs)
	}

	scripts, err := e.ourScripts(s, req.ScriptConfigIndex, req.Keypath)
	if err != nil {
		return nil, err
	}

	if req.PrevOutValue == 0 {
		return nil, fmt.Errorf("%w: input without value",
			ErrInvalidInput)
	}
	s.inputSum, err = addAmount(s.inputSum, req.PrevOutValue)
	if err != nil {
		return nil, err
	}

	outPoint := wire.OutPoint{
		Hash:  req.PrevOutHash,
		Index: req.PrevOutIndex,
	}
	if s.prevOuts.FetchPrevOutput(outPoint) != nil {
		return nil, fmt.Errorf("%w: input %v spent twice",
			ErrInvalidInput, outPoint)
	}

	value := int64(req.PrevOutValue)
	s.prevOuts.AddPrevOut(outPoint, wire.NewTxOut(value, scripts.PkScript))

	txIn := wire.NewTxIn(&outPoint, nil, nil)
	txIn.Sequence = req.Sequence
	s.tx.AddTxIn(txIn)

	s.inputs = append(s.inputs, signInput{
		keypath:    req.Keypath,
		signScript: scripts.SignScript(),
		value:      value,
	})

	e.putSession(s)

	return s.next(), nil
}

// externalAddress decodes the destination of an output not owned by the
// device.
func externalAddress(req *messages.BTCSignOutputRequest,
	params *chaincfg.Params) (btcutil.Address, error) {

	var (
		addr btcutil.Address
		err  error
	)
	switch req.Type {
	case messages.BTCOutputTypeP2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(req.Payload, params)

	case messages.BTCOutputTypeP2SH:
		addr, err = btcutil.NewAddressScriptHashFromHash(
			req.Payload, params,
		)

	case messages.BTCOutputTypeP2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(
			req.Payload, params,
		)

	case messages.BTCOutputTypeP2WSH:
		addr, err = btcutil.NewAddressWitnessScriptHash(
			req.Payload, params,
		)

	default:
		return nil, fmt.Errorf("%w: output type %d", ErrInvalidInput,
			req.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return addr, nil
}

// FormatAmount renders a satoshi amount in whole coins with the unit of c.
func FormatAmount(c coin.Coin, amount btcutil.Amount) string {
	whole := int64(amount) / btcutil.SatoshiPerBitcoin
	frac := int64(amount) % btcutil.SatoshiPerBitcoin

	return fmt.Sprintf("%d.%08d %s", whole, frac, c.Unit())
}

// SignOutput adds the next output to the session. External outputs are
// confirmed by the user. After the last output the totals are confirmed and
// all inputs are signed.
func (e *Engine) SignOutput(ctx context.Context,
	req *messages.BTCSignOutputRequest) (*messages.BTCSignNextResponse,
	error) {

	s, err := e.takeSession()
	if err != nil {
		return nil, err
	}

	switch {
	case uint32(len(s.tx.TxIn)) < s.numInputs:
		return nil, fmt.Errorf("%w: %d inputs outstanding", ErrNoSession,
			s.numInputs-uint32(len(s.tx.TxIn)))

	case uint32(len(s.tx.TxOut)) >= s.numOutputs:
		return nil, fmt.Errorf("%w: all %d outputs received",
			ErrNoSession, s.numOutputs)
	}

	if req.Value == 0 {
		return nil, fmt.Errorf("%w: output without value",
			ErrInvalidInput)
	}
	s.outputSum, err = addAmount(s.outputSum, req.Value)
	if err != nil {
		return nil, err
	}

	var pkScript []byte
	if req.Ours {
		scripts, err := e.ourScripts(
			s, req.ScriptConfigIndex, req.Keypath,
		)
		if err != nil {
			return nil, err
		}
		pkScript = scripts.PkScript
	} else {
		pkScript, err = e.confirmExternal(ctx, s, req)
		if err != nil {
			return nil, err
		}
	}

	s.tx.AddTxOut(wire.NewTxOut(int64(req.Value), pkScript))

	if uint32(len(s.tx.TxOut)) < s.numOutputs {
		e.putSession(s)
		return s.next(), nil
	}

	sigs, err := e.finish(ctx, s)
	if err != nil {
		return nil, err
	}

	return &messages.BTCSignNextResponse{
		Type:       messages.SignNextDone,
		Signatures: sigs,
	}, nil
}

// confirmExternal shows an external output to the user and returns its
// pkScript.
func (e *Engine) confirmExternal(ctx context.Context, s *signSession,
	req *messages.BTCSignOutputRequest) ([]byte, error) {

	addr, err := externalAddress(req, s.params)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	s.externalSum += btcutil.Amount(req.Value)

	title, err := verify.FormatTitle("%s\nsend", s.coin.Name())
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("%s\n%s",
		FormatAmount(s.coin, btcutil.Amount(req.Value)),
		addr.EncodeAddress())
	if err := e.gate.Verify(ctx, title, body); err != nil {
		return nil, gateErr(err)
	}

	return pkScript, nil
}

// finish confirms the totals and signs every input.
func (e *Engine) finish(ctx context.Context, s *signSession) ([][]byte,
	error) {

	if s.outputSum > s.inputSum {
		return nil, fmt.Errorf("%w: outputs %v exceed inputs %v",
			ErrInvalidInput, s.outputSum, s.inputSum)
	}
	fee := s.inputSum - s.outputSum

	title, err := verify.FormatTitle("%s\ntotal", s.coin.Name())
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Total: %s\nFee: %s",
		FormatAmount(s.coin, s.externalSum+fee),
		FormatAmount(s.coin, fee))
	if err := e.gate.Verify(ctx, title, body); err != nil {
		return nil, gateErr(err)
	}

	sigHashes := txscript.NewTxSigHashes(s.tx, s.prevOuts)
	sigs := make([][]byte, 0, len(s.inputs))
	for i, in := range s.inputs {
		key, err := e.derive(in.keypath)
		if err != nil {
			return nil, err
		}

		privKey, err := key.ECPrivKey()
		if err != nil {
			return nil, err
		}

		sig, err := txscript.RawTxInWitnessSignature(
			s.tx, sigHashes, i, in.value, in.signScript,
			txscript.SigHashAll, privKey,
		)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}

	log.Infof("Signed %v transaction %v", s.coin, s.tx.TxHash())

	return sigs, nil
}
