// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messages

import (
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeErrorCode    tlv.Type = 1
	typeErrorMessage tlv.Type = 2

	typePubResponsePub tlv.Type = 1

	typeIsRegistered tlv.Type = 1

	typeNextType       tlv.Type = 1
	typeNextIndex      tlv.Type = 2
	typeNextSignatures tlv.Type = 3
)

// EncodeResponse writes resp to w.
func EncodeResponse(w io.Writer, resp Response) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrUnknownMessage)
	}

	var (
		body []byte
		err  error
	)
	switch r := resp.(type) {
	case *ErrorResponse:
		msg := []byte(r.Message)
		body, err = encodeStream(
			tlv.MakePrimitiveRecord(typeErrorCode, &r.Code),
			tlv.MakePrimitiveRecord(typeErrorMessage, &msg),
		)

	case *SuccessResponse:
		body = nil

	case *PubResponse:
		pub := []byte(r.Pub)
		body, err = encodeStream(
			tlv.MakePrimitiveRecord(typePubResponsePub, &pub),
		)

	case *BTCIsScriptConfigRegisteredResponse:
		body, err = encodeStream(
			tlv.MakePrimitiveRecord(typeIsRegistered, &r.IsRegistered),
		)

	case *BTCSignNextResponse:
		var (
			typ  = uint8(r.Type)
			sigs = encodeList(r.Signatures)
		)
		body, err = encodeStream(
			tlv.MakePrimitiveRecord(typeNextType, &typ),
			tlv.MakePrimitiveRecord(typeNextIndex, &r.Index),
			tlv.MakePrimitiveRecord(typeNextSignatures, &sigs),
		)

	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, resp)
	}
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return encodeEnvelope(w, uint8(resp.ResponseType()), body)
}

// DecodeResponse reads one response from r.
func DecodeResponse(r io.Reader) (Response, error) {
	kind, body, err := decodeEnvelope(r)
	if err != nil {
		return nil, err
	}

	switch ResponseType(kind) {
	case ResponseTypeError:
		var (
			resp ErrorResponse
			msg  []byte
		)
		parsed, err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeErrorCode, &resp.Code),
			tlv.MakePrimitiveRecord(typeErrorMessage, &msg),
		)
		if err != nil {
			return nil, err
		}
		if err := requireFields(parsed, typeErrorCode); err != nil {
			return nil, err
		}
		resp.Message = string(msg)

		return &resp, nil

	case ResponseTypeSuccess:
		return &SuccessResponse{}, nil

	case ResponseTypePub:
		var pub []byte
		parsed, err := decodeStream(body,
			tlv.MakePrimitiveRecord(typePubResponsePub, &pub),
		)
		if err != nil {
			return nil, err
		}
		if err := requireFields(parsed, typePubResponsePub); err != nil {
			return nil, err
		}

		return &PubResponse{Pub: string(pub)}, nil

	case ResponseTypeBTCIsScriptConfigRegistered:
		var resp BTCIsScriptConfigRegisteredResponse
		parsed, err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeIsRegistered, &resp.IsRegistered),
		)
		if err != nil {
			return nil, err
		}
		if err := requireFields(parsed, typeIsRegistered); err != nil {
			return nil, err
		}

		return &resp, nil

	case ResponseTypeBTCSignNext:
		var (
			resp BTCSignNextResponse
			typ  uint8
			sigs []byte
		)
		parsed, err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeNextType, &typ),
			tlv.MakePrimitiveRecord(typeNextIndex, &resp.Index),
			tlv.MakePrimitiveRecord(typeNextSignatures, &sigs),
		)
		if err != nil {
			return nil, err
		}
		err = requireFields(
			parsed, typeNextType, typeNextIndex, typeNextSignatures,
		)
		if err != nil {
			return nil, err
		}

		resp.Type = SignNextType(typ)
		if resp.Signatures, err = decodeList(sigs); err != nil {
			return nil, err
		}
		if len(resp.Signatures) == 0 {
			resp.Signatures = nil
		}

		return &resp, nil

	default:
		return nil, fmt.Errorf("%w: response %d", ErrUnknownMessage,
			kind)
	}
}
