// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/hwcommander/commander"
	"github.com/btcsuite/hwcommander/messages"
	"github.com/lightningnetwork/lnd/tlv"
)

// maxLineSize bounds one hex encoded request line.
const maxLineSize = 2*tlv.MaxRecordSize + 1

// handler processes one decoded request.
type handler interface {
	Handle(ctx context.Context, req messages.Request) messages.Response
}

// serve reads one hex encoded request per line from in and writes one hex
// encoded response per line to out. It returns nil once in is exhausted.
func serve(ctx context.Context, in io.Reader, out io.Writer,
	h handler) error {

	type scanResult struct {
		line string
		err  error
	}

	lines := make(chan scanResult)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(nil, maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanResult{line: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case lines <- scanResult{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	w := bufio.NewWriter(out)
	for {
		var res scanResult
		select {
		case r, ok := <-lines:
			if !ok {
				return nil
			}
			res = r

		case <-ctx.Done():
			return ctx.Err()
		}

		if res.err != nil {
			return fmt.Errorf("read request: %w", res.err)
		}

		line := strings.TrimSpace(res.line)
		if line == "" {
			continue
		}

		resp := handleLine(ctx, h, line)

		var b bytes.Buffer
		if err := messages.EncodeResponse(&b, resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}

		_, err := fmt.Fprintln(w, hex.EncodeToString(b.Bytes()))
		if err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

// handleLine decodes and processes one request line. Requests that cannot be
// decoded never reach the device and are answered with INVALID_INPUT.
func handleLine(ctx context.Context, h handler,
	line string) messages.Response {

	raw, err := hex.DecodeString(line)
	if err != nil {
		hwcdLog.Debugf("Malformed request line: %v", err)
		return invalidRequest("malformed hex")
	}

	req, err := messages.DecodeRequest(bytes.NewReader(raw))
	if err != nil {
		hwcdLog.Debugf("Undecodable request: %v", err)
		return invalidRequest("malformed request")
	}

	hwcdLog.Debugf("Handling %v", req.RequestType())

	return h.Handle(ctx, req)
}

// invalidRequest is the response to a request that failed to decode.
func invalidRequest(msg string) *messages.ErrorResponse {
	return &messages.ErrorResponse{
		Code:    uint32(commander.ErrInvalidInput),
		Message: msg,
	}
}
