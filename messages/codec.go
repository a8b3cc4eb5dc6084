// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messages

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/hwcommander/keypath"
	"github.com/btcsuite/hwcommander/scriptconfig"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrUnknownMessage is returned when decoding a message whose variant
	// is not known.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrMalformedMessage is returned when a message is missing a field
	// or carries an invalid one.
	ErrMalformedMessage = errors.New("malformed message")
)

// Every message is framed as an envelope stream holding the variant
// discriminant and the variant body, itself a TLV stream.
const (
	typeEnvelopeKind tlv.Type = 0
	typeEnvelopeBody tlv.Type = 1
)

// maxListItem bounds a single element of an encoded list.
const maxListItem = tlv.MaxRecordSize

func encodeEnvelope(w io.Writer, kind uint8, body []byte) error {
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeEnvelopeKind, &kind),
		tlv.MakePrimitiveRecord(typeEnvelopeBody, &body),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeEnvelope(r io.Reader) (uint8, []byte, error) {
	var (
		kind uint8
		body []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeEnvelopeKind, &kind),
		tlv.MakePrimitiveRecord(typeEnvelopeBody, &body),
	)
	if err != nil {
		return 0, nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	if _, ok := parsed[typeEnvelopeKind]; !ok {
		return 0, nil, fmt.Errorf("%w: missing message type",
			ErrMalformedMessage)
	}

	return kind, body, nil
}

// encodeStream serializes records into a fresh buffer.
func encodeStream(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeStream parses body into records and returns the set of types that
// were present.
func decodeStream(body []byte, records ...tlv.Record) (tlv.TypeMap, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return parsed, nil
}

// requireFields fails if any of types is absent from parsed.
func requireFields(parsed tlv.TypeMap, types ...tlv.Type) error {
	for _, typ := range types {
		if _, ok := parsed[typ]; !ok {
			return fmt.Errorf("%w: missing field %d",
				ErrMalformedMessage, typ)
		}
	}

	return nil
}

// encodeList packs items as a varint count followed by varint length
// prefixed items.
func encodeList(items [][]byte) []byte {
	var (
		b   bytes.Buffer
		buf [8]byte
	)

	// Writes to a bytes.Buffer never fail.
	_ = tlv.WriteVarInt(&b, uint64(len(items)), &buf)
	for _, item := range items {
		_ = tlv.WriteVarInt(&b, uint64(len(item)), &buf)
		b.Write(item)
	}

	return b.Bytes()
}

// decodeList reverses encodeList.
func decodeList(data []byte) ([][]byte, error) {
	var (
		r   = bytes.NewReader(data)
		buf [8]byte
	)

	count, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: list count: %w", ErrMalformedMessage,
			err)
	}

	// Every item takes at least one byte for its length.
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: list count %d exceeds data",
			ErrMalformedMessage, count)
	}

	items := make([][]byte, 0, count)
	for i := range count {
		size, err := tlv.ReadVarInt(r, &buf)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %w",
				ErrMalformedMessage, i, err)
		}

		if size > maxListItem || size > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: item %d has size %d",
				ErrMalformedMessage, i, size)
		}

		item := make([]byte, size)
		if _, err := io.ReadFull(r, item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w",
				ErrMalformedMessage, i, err)
		}
		items = append(items, item)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing list bytes",
			ErrMalformedMessage, r.Len())
	}

	return items, nil
}

func decodeKeypath(b []byte) (keypath.Keypath, error) {
	kp, err := keypath.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return kp, nil
}

func decodeScriptConfig(b []byte) (scriptconfig.Config, error) {
	cfg, err := scriptconfig.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return cfg, nil
}
