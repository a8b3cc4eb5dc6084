// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messages

import (
	"fmt"
	"io"

	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/lightningnetwork/lnd/tlv"
)

// Field types of the BTCPubRequest body.
const (
	typePubCoin         tlv.Type = 1
	typePubKeypath      tlv.Type = 2
	typePubDisplay      tlv.Type = 3
	typePubXPubType     tlv.Type = 4
	typePubScriptConfig tlv.Type = 5
)

// Field types of the registration request bodies.
const (
	typeRegCoin         tlv.Type = 1
	typeRegScriptConfig tlv.Type = 2
	typeRegKeypath      tlv.Type = 3
	typeRegName         tlv.Type = 4
)

// Field types of the BTCSignInitRequest body.
const (
	typeInitCoin          tlv.Type = 1
	typeInitScriptConfigs tlv.Type = 2
	typeInitVersion       tlv.Type = 3
	typeInitNumInputs     tlv.Type = 4
	typeInitNumOutputs    tlv.Type = 5
	typeInitLocktime      tlv.Type = 6
)

// Field types of the BTCSignInputRequest body.
const (
	typeInputPrevOutHash       tlv.Type = 1
	typeInputPrevOutIndex      tlv.Type = 2
	typeInputPrevOutValue      tlv.Type = 3
	typeInputSequence          tlv.Type = 4
	typeInputKeypath           tlv.Type = 5
	typeInputScriptConfigIndex tlv.Type = 6
)

// Field types of the BTCSignOutputRequest body.
const (
	typeOutputOurs              tlv.Type = 1
	typeOutputType              tlv.Type = 2
	typeOutputValue             tlv.Type = 3
	typeOutputPayload           tlv.Type = 4
	typeOutputKeypath           tlv.Type = 5
	typeOutputScriptConfigIndex tlv.Type = 6
)

// EncodeRequest writes req to w.
func EncodeRequest(w io.Writer, req Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrUnknownMessage)
	}

	var (
		body []byte
		err  error
	)
	switch r := req.(type) {
	case *BTCPubRequest:
		body, err = encodePubRequest(r)

	case *BTCIsScriptConfigRegisteredRequest:
		body, err = encodeRegistration(&r.Registration, nil)

	case *BTCRegisterScriptConfigRequest:
		name := []byte(r.Name)
		body, err = encodeRegistration(&r.Registration, &name)

	case *BTCSignInitRequest:
		body, err = encodeSignInit(r)

	case *BTCSignInputRequest:
		body, err = encodeSignInput(r)

	case *BTCSignOutputRequest:
		body, err = encodeSignOutput(r)

	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, req)
	}
	if err != nil {
		return fmt.Errorf("encode %v: %w", req.RequestType(), err)
	}

	return encodeEnvelope(w, uint8(req.RequestType()), body)
}

// DecodeRequest reads one request from r. Requests of an unknown variant
// fail with ErrUnknownMessage, incomplete or invalid ones with
// ErrMalformedMessage.
func DecodeRequest(r io.Reader) (Request, error) {
	kind, body, err := decodeEnvelope(r)
	if err != nil {
		return nil, err
	}

	switch RequestType(kind) {
	case RequestTypeBTCPub:
		return decodePubRequest(body)

	case RequestTypeBTCIsScriptConfigRegistered:
		reg, _, err := decodeRegistration(body, false)
		if err != nil {
			return nil, err
		}

		return &BTCIsScriptConfigRegisteredRequest{
			Registration: *reg,
		}, nil

	case RequestTypeBTCRegisterScriptConfig:
		reg, name, err := decodeRegistration(body, true)
		if err != nil {
			return nil, err
		}

		return &BTCRegisterScriptConfigRequest{
			Registration: *reg,
			Name:         name,
		}, nil

	case RequestTypeBTCSignInit:
		return decodeSignInit(body)

	case RequestTypeBTCSignInput:
		return decodeSignInput(body)

	case RequestTypeBTCSignOutput:
		return decodeSignOutput(body)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage,
			RequestType(kind))
	}
}

func encodePubRequest(r *BTCPubRequest) ([]byte, error) {
	var (
		c       = uint8(r.Coin)
		kp      = r.Keypath.Bytes()
		display = r.Display
		records = []tlv.Record{
			tlv.MakePrimitiveRecord(typePubCoin, &c),
			tlv.MakePrimitiveRecord(typePubKeypath, &kp),
			tlv.MakePrimitiveRecord(typePubDisplay, &display),
		}
	)

	switch out := r.Output.(type) {
	case XPubOutput:
		xpubType := uint8(out.Type)
		records = append(records, tlv.MakePrimitiveRecord(
			typePubXPubType, &xpubType,
		))

	case ScriptConfigOutput:
		cfg, err := scriptconfig.Encode(out.Config)
		if err != nil {
			return nil, err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			typePubScriptConfig, &cfg,
		))

	default:
		return nil, fmt.Errorf("%w: output %T", ErrMalformedMessage,
			r.Output)
	}

	return encodeStream(records...)
}

func decodePubRequest(body []byte) (*BTCPubRequest, error) {
	var (
		c        uint8
		kp       []byte
		display  bool
		xpubType uint8
		cfg      []byte
	)
	parsed, err := decodeStream(body,
		tlv.MakePrimitiveRecord(typePubCoin, &c),
		tlv.MakePrimitiveRecord(typePubKeypath, &kp),
		tlv.MakePrimitiveRecord(typePubDisplay, &display),
		tlv.MakePrimitiveRecord(typePubXPubType, &xpubType),
		tlv.MakePrimitiveRecord(typePubScriptConfig, &cfg),
	)
	if err != nil {
		return nil, err
	}

	if err := requireFields(parsed, typePubCoin, typePubKeypath); err != nil {
		return nil, err
	}

	req := &BTCPubRequest{
		Coin:    coin.Coin(c),
		Display: display,
	}
	if req.Keypath, err = decodeKeypath(kp); err != nil {
		return nil, err
	}

	_, hasXPub := parsed[typePubXPubType]
	_, hasConfig := parsed[typePubScriptConfig]
	switch {
	case hasXPub && !hasConfig:
		req.Output = XPubOutput{Type: XPubType(xpubType)}

	case hasConfig && !hasXPub:
		config, err := decodeScriptConfig(cfg)
		if err != nil {
			return nil, err
		}
		req.Output = ScriptConfigOutput{Config: config}

	default:
		return nil, fmt.Errorf("%w: need exactly one of xpub type and "+
			"script config", ErrMalformedMessage)
	}

	return req, nil
}

func encodeRegistration(reg *ScriptConfigRegistration,
	name *[]byte) ([]byte, error) {

	cfg, err := scriptconfig.Encode(reg.ScriptConfig)
	if err != nil {
		return nil, err
	}

	var (
		c       = uint8(reg.Coin)
		kp      = reg.Keypath.Bytes()
		records = []tlv.Record{
			tlv.MakePrimitiveRecord(typeRegCoin, &c),
			tlv.MakePrimitiveRecord(typeRegScriptConfig, &cfg),
			tlv.MakePrimitiveRecord(typeRegKeypath, &kp),
		}
	)
	if name != nil {
		records = append(records, tlv.MakePrimitiveRecord(
			typeRegName, name,
		))
	}

	return encodeStream(records...)
}

func decodeRegistration(body []byte,
	withName bool) (*ScriptConfigRegistration, string, error) {

	var (
		c    uint8
		cfg  []byte
		kp   []byte
		name []byte
	)
	parsed, err := decodeStream(body,
		tlv.MakePrimitiveRecord(typeRegCoin, &c),
		tlv.MakePrimitiveRecord(typeRegScriptConfig, &cfg),
		tlv.MakePrimitiveRecord(typeRegKeypath, &kp),
		tlv.MakePrimitiveRecord(typeRegName, &name),
	)
	if err != nil {
		return nil, "", err
	}

	fields := []tlv.Type{typeRegCoin, typeRegScriptConfig, typeRegKeypath}
	if withName {
		fields = append(fields, typeRegName)
	}
	if err := requireFields(parsed, fields...); err != nil {
		return nil, "", err
	}

	reg := &ScriptConfigRegistration{
		Coin: coin.Coin(c),
	}
	if reg.ScriptConfig, err = decodeScriptConfig(cfg); err != nil {
		return nil, "", err
	}
	if reg.Keypath, err = decodeKeypath(kp); err != nil {
		return nil, "", err
	}

	return reg, string(name), nil
}

// encodeScriptConfigs flattens the configs into a list of alternating
// config and keypath items.
func encodeScriptConfigs(configs []ScriptConfigWithKeypath) ([]byte, error) {
	items := make([][]byte, 0, 2*len(configs))
	for i, c := range configs {
		cfg, err := scriptconfig.Encode(c.ScriptConfig)
		if err != nil {
			return nil, fmt.Errorf("script config %d: %w", i, err)
		}
		items = append(items, cfg, c.Keypath.Bytes())
	}

	return encodeList(items), nil
}

func decodeScriptConfigs(data []byte) ([]ScriptConfigWithKeypath, error) {
	items, err := decodeList(data)
	if err != nil {
		return nil, err
	}

	if len(items)%2 != 0 {
		return nil, fmt.Errorf("%w: odd script config list",
			ErrMalformedMessage)
	}

	configs := make([]ScriptConfigWithKeypath, 0, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		cfg, err := decodeScriptConfig(items[i])
		if err != nil {
			return nil, err
		}

		kp, err := decodeKeypath(items[i+1])
		if err != nil {
			return nil, err
		}

		configs = append(configs, ScriptConfigWithKeypath{
			ScriptConfig: cfg,
			Keypath:      kp,
		})
	}

	return configs, nil
}

func encodeSignInit(r *BTCSignInitRequest) ([]byte, error) {
	configs, err := encodeScriptConfigs(r.ScriptConfigs)
	if err != nil {
		return nil, err
	}

	c := uint8(r.Coin)

	return encodeStream(
		tlv.MakePrimitiveRecord(typeInitCoin, &c),
		tlv.MakePrimitiveRecord(typeInitScriptConfigs, &configs),
		tlv.MakePrimitiveRecord(typeInitVersion, &r.Version),
		tlv.MakePrimitiveRecord(typeInitNumInputs, &r.NumInputs),
		tlv.MakePrimitiveRecord(typeInitNumOutputs, &r.NumOutputs),
		tlv.MakePrimitiveRecord(typeInitLocktime, &r.Locktime),
	)
}

func decodeSignInit(body []byte) (*BTCSignInitRequest, error) {
	var (
		c       uint8
		configs []byte
		req     BTCSignInitRequest
	)
	parsed, err := decodeStream(body,
		tlv.MakePrimitiveRecord(typeInitCoin, &c),
		tlv.MakePrimitiveRecord(typeInitScriptConfigs, &configs),
		tlv.MakePrimitiveRecord(typeInitVersion, &req.Version),
		tlv.MakePrimitiveRecord(typeInitNumInputs, &req.NumInputs),
		tlv.MakePrimitiveRecord(typeInitNumOutputs, &req.NumOutputs),
		tlv.MakePrimitiveRecord(typeInitLocktime, &req.Locktime),
	)
	if err != nil {
		return nil, err
	}

	err = requireFields(
		parsed, typeInitCoin, typeInitScriptConfigs, typeInitVersion,
		typeInitNumInputs, typeInitNumOutputs,
	)
	if err != nil {
		return nil, err
	}

	req.Coin = coin.Coin(c)
	if req.ScriptConfigs, err = decodeScriptConfigs(configs); err != nil {
		return nil, err
	}

	return &req, nil
}

func encodeSignInput(r *BTCSignInputRequest) ([]byte, error) {
	var (
		hash [32]byte = r.PrevOutHash
		kp            = r.Keypath.Bytes()
	)

	return encodeStream(
		tlv.MakePrimitiveRecord(typeInputPrevOutHash, &hash),
		tlv.MakePrimitiveRecord(typeInputPrevOutIndex, &r.PrevOutIndex),
		tlv.MakePrimitiveRecord(typeInputPrevOutValue, &r.PrevOutValue),
		tlv.MakePrimitiveRecord(typeInputSequence, &r.Sequence),
		tlv.MakePrimitiveRecord(typeInputKeypath, &kp),
		tlv.MakePrimitiveRecord(
			typeInputScriptConfigIndex, &r.ScriptConfigIndex,
		),
	)
}

func decodeSignInput(body []byte) (*BTCSignInputRequest, error) {
	var (
		hash [32]byte
		kp   []byte
		req  BTCSignInputRequest
	)
	parsed, err := decodeStream(body,
		tlv.MakePrimitiveRecord(typeInputPrevOutHash, &hash),
		tlv.MakePrimitiveRecord(typeInputPrevOutIndex, &req.PrevOutIndex),
		tlv.MakePrimitiveRecord(typeInputPrevOutValue, &req.PrevOutValue),
		tlv.MakePrimitiveRecord(typeInputSequence, &req.Sequence),
		tlv.MakePrimitiveRecord(typeInputKeypath, &kp),
		tlv.MakePrimitiveRecord(
			typeInputScriptConfigIndex, &req.ScriptConfigIndex,
		),
	)
	if err != nil {
		return nil, err
	}

	err = requireFields(
		parsed, typeInputPrevOutHash, typeInputPrevOutIndex,
		typeInputPrevOutValue, typeInputSequence, typeInputKeypath,
	)
	if err != nil {
		return nil, err
	}

	req.PrevOutHash = hash
	if req.Keypath, err = decodeKeypath(kp); err != nil {
		return nil, err
	}

	return &req, nil
}

func encodeSignOutput(r *BTCSignOutputRequest) ([]byte, error) {
	var (
		ours    = r.Ours
		typ     = uint8(r.Type)
		payload = r.Payload
		kp      = r.Keypath.Bytes()
	)

	return encodeStream(
		tlv.MakePrimitiveRecord(typeOutputOurs, &ours),
		tlv.MakePrimitiveRecord(typeOutputType, &typ),
		tlv.MakePrimitiveRecord(typeOutputValue, &r.Value),
		tlv.MakePrimitiveRecord(typeOutputPayload, &payload),
		tlv.MakePrimitiveRecord(typeOutputKeypath, &kp),
		tlv.MakePrimitiveRecord(
			typeOutputScriptConfigIndex, &r.ScriptConfigIndex,
		),
	)
}

func decodeSignOutput(body []byte) (*BTCSignOutputRequest, error) {
	var (
		typ uint8
		kp  []byte
		req BTCSignOutputRequest
	)
	parsed, err := decodeStream(body,
		tlv.MakePrimitiveRecord(typeOutputOurs, &req.Ours),
		tlv.MakePrimitiveRecord(typeOutputType, &typ),
		tlv.MakePrimitiveRecord(typeOutputValue, &req.Value),
		tlv.MakePrimitiveRecord(typeOutputPayload, &req.Payload),
		tlv.MakePrimitiveRecord(typeOutputKeypath, &kp),
		tlv.MakePrimitiveRecord(
			typeOutputScriptConfigIndex, &req.ScriptConfigIndex,
		),
	)
	if err != nil {
		return nil, err
	}

	err = requireFields(parsed, typeOutputOurs, typeOutputValue)
	if err != nil {
		return nil, err
	}

	req.Type = BTCOutputType(typ)
	if req.Keypath, err = decodeKeypath(kp); err != nil {
		return nil, err
	}

	return &req, nil
}
