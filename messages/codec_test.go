package messages

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
)

var multisigKeypath = keypath.Keypath{
	keypath.Hardened(48), keypath.Hardened(0), keypath.Hardened(0),
	keypath.Hardened(2),
}

func testXPub(t *testing.T, seedByte byte) *hdkeychain.ExtendedKey {
	t.Helper()

	key, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{seedByte}, 32), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	for _, idx := range multisigKeypath {
		key, err = key.Derive(idx)
		require.NoError(t, err)
	}

	xpub, err := key.Neuter()
	require.NoError(t, err)

	return xpub
}

func testMultisig(t *testing.T) *scriptconfig.Multisig {
	t.Helper()

	return &scriptconfig.Multisig{
		Threshold: 2,
		XPubs: []*hdkeychain.ExtendedKey{
			testXPub(t, 1), testXPub(t, 2), testXPub(t, 3),
		},
		OurXPubIndex: 1,
	}
}

// roundTripRequest encodes and decodes req and checks that the decoded
// request encodes to the same bytes.
func roundTripRequest(t *testing.T, req Request) Request {
	t.Helper()

	var b bytes.Buffer
	require.NoError(t, EncodeRequest(&b, req))
	encoded := append([]byte(nil), b.Bytes()...)

	decoded, err := DecodeRequest(&b)
	require.NoError(t, err)
	require.Equal(t, req.RequestType(), decoded.RequestType())

	var again bytes.Buffer
	require.NoError(t, EncodeRequest(&again, decoded))
	require.Equal(t, encoded, again.Bytes())

	return decoded
}

// TestRequestRoundTrip checks that every request variant survives the
// wire format.
func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	ms := testMultisig(t)
	bip84 := keypath.Keypath{
		keypath.Hardened(84), keypath.Hardened(0), keypath.Hardened(0),
	}

	// An xpub request decodes to the same values.
	pubReq := &BTCPubRequest{
		Coin:    coin.TBTC,
		Keypath: bip84,
		Output:  XPubOutput{Type: XPubTypeVPUB},
		Display: true,
	}
	require.Equal(t, pubReq, roundTripRequest(t, pubReq))

	// An address request keeps its script config.
	addrReq := &BTCPubRequest{
		Coin:    coin.BTC,
		Keypath: append(multisigKeypath, 0, 5),
		Output:  ScriptConfigOutput{Config: ms},
	}
	decoded := roundTripRequest(t, addrReq).(*BTCPubRequest)
	require.False(t, decoded.Display)
	out, ok := decoded.Output.(ScriptConfigOutput)
	require.True(t, ok)
	decodedMs, ok := out.Config.(*scriptconfig.Multisig)
	require.True(t, ok)
	require.Equal(t, ms.Threshold, decodedMs.Threshold)
	require.Equal(t, ms.OurXPubIndex, decodedMs.OurXPubIndex)
	require.Len(t, decodedMs.XPubs, len(ms.XPubs))
	for i := range ms.XPubs {
		require.True(t, scriptconfig.SameXPub(
			ms.XPubs[i], decodedMs.XPubs[i],
		))
	}

	reg := ScriptConfigRegistration{
		Coin:         coin.LTC,
		ScriptConfig: ms,
		Keypath:      multisigKeypath,
	}
	isReg := roundTripRequest(t, &BTCIsScriptConfigRegisteredRequest{
		Registration: reg,
	}).(*BTCIsScriptConfigRegisteredRequest)
	require.Equal(t, coin.LTC, isReg.Registration.Coin)
	require.Equal(t, multisigKeypath, isReg.Registration.Keypath)

	register := roundTripRequest(t, &BTCRegisterScriptConfigRequest{
		Registration: reg,
		Name:         "family vault",
	}).(*BTCRegisterScriptConfigRequest)
	require.Equal(t, "family vault", register.Name)

	initReq := roundTripRequest(t, &BTCSignInitRequest{
		Coin: coin.BTC,
		ScriptConfigs: []ScriptConfigWithKeypath{
			{
				ScriptConfig: scriptconfig.Simple{
					Type: scriptconfig.P2WPKH,
				},
				Keypath: bip84,
			},
			{ScriptConfig: ms, Keypath: multisigKeypath},
		},
		Version:    2,
		NumInputs:  3,
		NumOutputs: 2,
		Locktime:   840000,
	}).(*BTCSignInitRequest)
	require.Len(t, initReq.ScriptConfigs, 2)
	require.Equal(t, scriptconfig.Simple{Type: scriptconfig.P2WPKH},
		initReq.ScriptConfigs[0].ScriptConfig)
	require.Equal(t, uint32(840000), initReq.Locktime)

	inputReq := &BTCSignInputRequest{
		PrevOutHash:       chainhash.Hash{1, 2, 3},
		PrevOutIndex:      7,
		PrevOutValue:      100_000,
		Sequence:          0xfffffffd,
		Keypath:           append(bip84, 1, 3),
		ScriptConfigIndex: 0,
	}
	require.Equal(t, inputReq, roundTripRequest(t, inputReq))

	outputReq := &BTCSignOutputRequest{
		Type:    BTCOutputTypeP2WSH,
		Value:   42_000,
		Payload: bytes.Repeat([]byte{0xab}, 32),
		Keypath: keypath.Keypath{},
	}
	require.Equal(t, outputReq, roundTripRequest(t, outputReq))
}

// TestResponseRoundTrip checks that every response variant survives the
// wire format.
func TestResponseRoundTrip(t *testing.T) {
	t.Parallel()

	responses := []Response{
		&ErrorResponse{Code: 104, Message: "aborted by user"},
		&SuccessResponse{},
		&PubResponse{Pub: "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"},
		&BTCIsScriptConfigRegisteredResponse{IsRegistered: true},
		&BTCSignNextResponse{Type: SignNextOutput, Index: 4},
		&BTCSignNextResponse{
			Type:       SignNextDone,
			Signatures: [][]byte{{0x30, 0x44}, {0x30, 0x45, 0x01}},
		},
	}

	for _, resp := range responses {
		var b bytes.Buffer
		require.NoError(t, EncodeResponse(&b, resp))

		decoded, err := DecodeResponse(&b)
		require.NoError(t, err)
		require.Equal(t, resp, decoded)
	}
}

// TestDecodeRequestRejects covers requests that must not decode.
func TestDecodeRequestRejects(t *testing.T) {
	t.Parallel()

	envelope := func(kind uint8, records ...tlv.Record) []byte {
		body, err := encodeStream(records...)
		require.NoError(t, err)

		var b bytes.Buffer
		require.NoError(t, encodeEnvelope(&b, kind, body))

		return b.Bytes()
	}

	var (
		c        uint8
		kp       = keypath.Keypath{keypath.Hardened(84)}.Bytes()
		badKp    = []byte{1, 2, 3}
		xpubType uint8
		cfg      = []byte{byte(scriptconfig.KindSimple), 1}
	)

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{
			name: "unknown variant",
			data: envelope(99),
			err:  ErrUnknownMessage,
		},
		{
			name: "unset variant",
			data: envelope(uint8(RequestTypeUnknown)),
			err:  ErrUnknownMessage,
		},
		{
			name: "missing keypath",
			data: envelope(uint8(RequestTypeBTCPub),
				tlv.MakePrimitiveRecord(typePubCoin, &c),
				tlv.MakePrimitiveRecord(typePubXPubType, &xpubType),
			),
			err: ErrMalformedMessage,
		},
		{
			name: "truncated keypath",
			data: envelope(uint8(RequestTypeBTCPub),
				tlv.MakePrimitiveRecord(typePubCoin, &c),
				tlv.MakePrimitiveRecord(typePubKeypath, &badKp),
				tlv.MakePrimitiveRecord(typePubXPubType, &xpubType),
			),
			err: ErrMalformedMessage,
		},
		{
			name: "no output",
			data: envelope(uint8(RequestTypeBTCPub),
				tlv.MakePrimitiveRecord(typePubCoin, &c),
				tlv.MakePrimitiveRecord(typePubKeypath, &kp),
			),
			err: ErrMalformedMessage,
		},
		{
			name: "two outputs",
			data: envelope(uint8(RequestTypeBTCPub),
				tlv.MakePrimitiveRecord(typePubCoin, &c),
				tlv.MakePrimitiveRecord(typePubKeypath, &kp),
				tlv.MakePrimitiveRecord(typePubXPubType, &xpubType),
				tlv.MakePrimitiveRecord(typePubScriptConfig, &cfg),
			),
			err: ErrMalformedMessage,
		},
		{
			name: "register without name",
			data: envelope(uint8(RequestTypeBTCRegisterScriptConfig),
				tlv.MakePrimitiveRecord(typeRegCoin, &c),
				tlv.MakePrimitiveRecord(typeRegScriptConfig, &cfg),
				tlv.MakePrimitiveRecord(typeRegKeypath, &kp),
			),
			err: ErrMalformedMessage,
		},
		{
			name: "garbage",
			data: []byte{0x00, 0x05, 0x01},
			err:  ErrMalformedMessage,
		},
	}

	for _, tc := range tests {
		_, err := DecodeRequest(bytes.NewReader(tc.data))
		require.ErrorIs(t, err, tc.err, tc.name)
	}
}

// TestListBounds makes sure a list header cannot claim more items than the
// data holds.
func TestListBounds(t *testing.T) {
	t.Parallel()

	items, err := decodeList(encodeList([][]byte{{1}, {}, {2, 3}}))
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1}, {}, {2, 3}}, items)

	_, err = decodeList([]byte{0xfc})
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = decodeList([]byte{0x01, 0x05, 0x00})
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = decodeList([]byte{0x01, 0x01, 0x00, 0x00})
	require.ErrorIs(t, err, ErrMalformedMessage)
}
