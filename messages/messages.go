// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package messages defines the requests a host can send to the Bitcoin
// subsystem of the device and the responses it gets back.
package messages

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/scriptconfig"
)

// RequestType is the variant discriminant of a Request.
type RequestType uint8

const (
	// RequestTypeUnknown is never sent and marks a missing request.
	RequestTypeUnknown RequestType = iota

	// RequestTypeBTCPub asks for an xpub or an address.
	RequestTypeBTCPub

	// RequestTypeBTCIsScriptConfigRegistered queries the registry.
	RequestTypeBTCIsScriptConfigRegistered

	// RequestTypeBTCRegisterScriptConfig registers a multisig config.
	RequestTypeBTCRegisterScriptConfig

	// RequestTypeBTCSignInit starts a signing session.
	RequestTypeBTCSignInit

	// RequestTypeBTCSignInput streams one transaction input.
	RequestTypeBTCSignInput

	// RequestTypeBTCSignOutput streams one transaction output.
	RequestTypeBTCSignOutput
)

// String returns a short name of the request type.
func (t RequestType) String() string {
	switch t {
	case RequestTypeBTCPub:
		return "btc_pub"

	case RequestTypeBTCIsScriptConfigRegistered:
		return "btc_is_script_config_registered"

	case RequestTypeBTCRegisterScriptConfig:
		return "btc_register_script_config"

	case RequestTypeBTCSignInit:
		return "btc_sign_init"

	case RequestTypeBTCSignInput:
		return "btc_sign_input"

	case RequestTypeBTCSignOutput:
		return "btc_sign_output"

	default:
		return fmt.Sprintf("request(%d)", uint8(t))
	}
}

// Request is one host request. The set of implementations is closed and
// listed by the RequestType constants.
type Request interface {
	// RequestType returns the variant discriminant.
	RequestType() RequestType
}

// XPubType selects the version bytes of an exported extended public key.
type XPubType uint8

const (
	XPubTypeTPUB XPubType = iota
	XPubTypeXPUB
	XPubTypeYPUB
	XPubTypeZPUB
	XPubTypeVPUB
	XPubTypeUPUB
	XPubTypeCapitalVPUB
	XPubTypeCapitalZPUB
)

// String returns the SLIP-132 prefix of the type.
func (t XPubType) String() string {
	switch t {
	case XPubTypeTPUB:
		return "tpub"
	case XPubTypeXPUB:
		return "xpub"
	case XPubTypeYPUB:
		return "ypub"
	case XPubTypeZPUB:
		return "zpub"
	case XPubTypeVPUB:
		return "vpub"
	case XPubTypeUPUB:
		return "upub"
	case XPubTypeCapitalVPUB:
		return "Vpub"
	case XPubTypeCapitalZPUB:
		return "Zpub"
	default:
		return fmt.Sprintf("xpubtype(%d)", uint8(t))
	}
}

// PubOutput selects what a BTCPubRequest exports: either an XPubOutput or a
// ScriptConfigOutput.
type PubOutput interface {
	isPubOutput()
}

// XPubOutput exports the extended public key at the keypath.
type XPubOutput struct {
	Type XPubType
}

func (XPubOutput) isPubOutput() {}

// ScriptConfigOutput exports the address of the script config at the
// keypath.
type ScriptConfigOutput struct {
	Config scriptconfig.Config
}

func (ScriptConfigOutput) isPubOutput() {}

// BTCPubRequest asks for an xpub or an address, optionally verified on the
// device display.
type BTCPubRequest struct {
	Coin    coin.Coin
	Keypath keypath.Keypath
	Output  PubOutput
	Display bool
}

// RequestType implements Request.
func (*BTCPubRequest) RequestType() RequestType {
	return RequestTypeBTCPub
}

// ScriptConfigRegistration identifies a registered script configuration.
type ScriptConfigRegistration struct {
	Coin         coin.Coin
	ScriptConfig scriptconfig.Config
	Keypath      keypath.Keypath
}

// BTCIsScriptConfigRegisteredRequest queries the registry.
type BTCIsScriptConfigRegisteredRequest struct {
	Registration ScriptConfigRegistration
}

// RequestType implements Request.
func (*BTCIsScriptConfigRegisteredRequest) RequestType() RequestType {
	return RequestTypeBTCIsScriptConfigRegistered
}

// BTCRegisterScriptConfigRequest registers a configuration under a name.
type BTCRegisterScriptConfigRequest struct {
	Registration ScriptConfigRegistration
	Name         string
}

// RequestType implements Request.
func (*BTCRegisterScriptConfigRequest) RequestType() RequestType {
	return RequestTypeBTCRegisterScriptConfig
}

// ScriptConfigWithKeypath is a script configuration used by a transaction
// together with the account keypath of the device's key in it.
type ScriptConfigWithKeypath struct {
	ScriptConfig scriptconfig.Config
	Keypath      keypath.Keypath
}

// BTCSignInitRequest starts a signing session.
type BTCSignInitRequest struct {
	Coin          coin.Coin
	ScriptConfigs []ScriptConfigWithKeypath
	Version       uint32
	NumInputs     uint32
	NumOutputs    uint32
	Locktime      uint32
}

// RequestType implements Request.
func (*BTCSignInitRequest) RequestType() RequestType {
	return RequestTypeBTCSignInit
}

// BTCSignInputRequest describes one input spending a device owned output.
type BTCSignInputRequest struct {
	PrevOutHash       chainhash.Hash
	PrevOutIndex      uint32
	PrevOutValue      uint64
	Sequence          uint32
	Keypath           keypath.Keypath
	ScriptConfigIndex uint32
}

// RequestType implements Request.
func (*BTCSignInputRequest) RequestType() RequestType {
	return RequestTypeBTCSignInput
}

// BTCOutputType is the script type of an external output.
type BTCOutputType uint8

const (
	BTCOutputTypeUnknown BTCOutputType = iota
	BTCOutputTypeP2PKH
	BTCOutputTypeP2SH
	BTCOutputTypeP2WPKH
	BTCOutputTypeP2WSH
)

// BTCSignOutputRequest describes one output. Change outputs (Ours) are
// described by keypath and script config, external outputs by type and hash
// payload.
type BTCSignOutputRequest struct {
	Ours              bool
	Type              BTCOutputType
	Value             uint64
	Payload           []byte
	Keypath           keypath.Keypath
	ScriptConfigIndex uint32
}

// RequestType implements Request.
func (*BTCSignOutputRequest) RequestType() RequestType {
	return RequestTypeBTCSignOutput
}

// ResponseType is the variant discriminant of a Response.
type ResponseType uint8

const (
	// ResponseTypeUnknown marks a missing response.
	ResponseTypeUnknown ResponseType = iota

	// ResponseTypeError carries a failure instead of a payload.
	ResponseTypeError

	// ResponseTypeSuccess acknowledges a request without payload.
	ResponseTypeSuccess

	// ResponseTypePub carries an xpub or address.
	ResponseTypePub

	// ResponseTypeBTCIsScriptConfigRegistered carries a registry lookup.
	ResponseTypeBTCIsScriptConfigRegistered

	// ResponseTypeBTCSignNext tells the host what to send next.
	ResponseTypeBTCSignNext
)

// Response is one device response. The set of implementations is closed
// and listed by the ResponseType constants.
type Response interface {
	// ResponseType returns the variant discriminant.
	ResponseType() ResponseType
}

// ErrorResponse replaces the payload of a failed request.
type ErrorResponse struct {
	Code    uint32
	Message string
}

// ResponseType implements Response.
func (*ErrorResponse) ResponseType() ResponseType {
	return ResponseTypeError
}

// SuccessResponse acknowledges a request.
type SuccessResponse struct{}

// ResponseType implements Response.
func (*SuccessResponse) ResponseType() ResponseType {
	return ResponseTypeSuccess
}

// PubResponse carries an exported xpub or address.
type PubResponse struct {
	Pub string
}

// ResponseType implements Response.
func (*PubResponse) ResponseType() ResponseType {
	return ResponseTypePub
}

// BTCIsScriptConfigRegisteredResponse carries a registry lookup result.
type BTCIsScriptConfigRegisteredResponse struct {
	IsRegistered bool
}

// ResponseType implements Response.
func (*BTCIsScriptConfigRegisteredResponse) ResponseType() ResponseType {
	return ResponseTypeBTCIsScriptConfigRegistered
}

// SignNextType announces the next step of a signing session.
type SignNextType uint8

const (
	// SignNextInput asks for the input at Index.
	SignNextInput SignNextType = iota

	// SignNextOutput asks for the output at Index.
	SignNextOutput

	// SignNextDone ends the session; signatures are attached.
	SignNextDone
)

// String returns the name of the step.
func (t SignNextType) String() string {
	switch t {
	case SignNextInput:
		return "input"

	case SignNextOutput:
		return "output"

	case SignNextDone:
		return "done"

	default:
		return fmt.Sprintf("signnext(%d)", uint8(t))
	}
}

// BTCSignNextResponse tells the host which step to send next. Signatures
// are only set on SignNextDone and hold one signature per input, in input
// order.
type BTCSignNextResponse struct {
	Type       SignNextType
	Index      uint32
	Signatures [][]byte
}

// ResponseType implements Response.
func (*BTCSignNextResponse) ResponseType() ResponseType {
	return ResponseTypeBTCSignNext
}
