// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/hwcommander/verify"
	"golang.org/x/term"
)

// ttyPath is the controlling terminal. Stdin and stdout carry the request
// stream, so the user is asked on the terminal directly.
const ttyPath = "/dev/tty"

// errNoTerminal is returned when confirmations are needed but there is no
// terminal to ask on.
var errNoTerminal = errors.New("no terminal available for confirmations")

// autoConfirmer approves everything. It stands in for the user in scripted
// runs.
type autoConfirmer struct{}

// A compile time check to ensure autoConfirmer implements verify.Confirmer.
var _ verify.Confirmer = (*autoConfirmer)(nil)

// Confirm implements verify.Confirmer.
func (autoConfirmer) Confirm(_ context.Context,
	params verify.ConfirmParams) (bool, error) {

	hwcdLog.Infof("Auto confirming %q", params.Title)

	return true, nil
}

// promptConfirmer shows confirmations as text and reads y/n answers. Only
// a line read while a confirmation is waiting answers it.
type promptConfirmer struct {
	out io.Writer

	// mu guards answer and closed.
	mu sync.Mutex

	// answer receives the next line while a confirmation waits and is nil
	// otherwise.
	answer chan string

	// closed is set once the input is exhausted.
	closed bool

	// dropped counts lines read with no confirmation waiting.
	dropped atomic.Uint32
}

// A compile time check to ensure *promptConfirmer implements
// verify.Confirmer.
var _ verify.Confirmer = (*promptConfirmer)(nil)

// newPromptConfirmer starts reading answers from in. Answers typed while no
// confirmation is pending are dropped.
func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	p := &promptConfirmer{
		out: out,
	}

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.deliver(scanner.Text())
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		p.closed = true
		if p.answer != nil {
			close(p.answer)
			p.answer = nil
		}
	}()

	return p
}

// deliver hands line to the waiting confirmation, if any.
func (p *promptConfirmer) deliver(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.answer == nil {
		p.dropped.Add(1)
		hwcdLog.Debugf("Dropping input with no pending confirmation")

		return
	}

	// The channel has room for exactly this line.
	p.answer <- line
	p.answer = nil
}

// wait registers a pending confirmation and returns its answer channel.
func (p *promptConfirmer) wait() (chan string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, io.EOF
	}

	p.answer = make(chan string, 1)

	return p.answer, nil
}

// abandon withdraws the pending confirmation. A line that arrived in the
// meantime is discarded with the channel.
func (p *promptConfirmer) abandon(answer chan string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.answer == answer {
		p.answer = nil
	}
}

// pending returns true while a confirmation waits for an answer.
func (p *promptConfirmer) pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.answer != nil
}

// openTerminal opens the controlling terminal for a prompt confirmer.
func openTerminal() (*os.File, error) {
	tty, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoTerminal, err)
	}

	if !term.IsTerminal(int(tty.Fd())) {
		_ = tty.Close()
		return nil, fmt.Errorf("%w: %s is not a terminal", errNoTerminal,
			ttyPath)
	}

	return tty, nil
}

// Confirm implements verify.Confirmer.
func (p *promptConfirmer) Confirm(ctx context.Context,
	params verify.ConfirmParams) (bool, error) {

	_, err := fmt.Fprintf(p.out, "\n=== %s ===\n%s\nConfirm? [y/N]: ",
		strings.ReplaceAll(params.Title, "\n", " | "), params.Body)
	if err != nil {
		return false, err
	}

	answer, err := p.wait()
	if err != nil {
		return false, err
	}

	select {
	case line, ok := <-answer:
		if !ok {
			return false, io.EOF
		}

		reply := strings.ToLower(strings.TrimSpace(line))

		return reply == "y" || reply == "yes", nil

	case <-ctx.Done():
		p.abandon(answer)
		_, _ = fmt.Fprintln(p.out)

		return false, ctx.Err()
	}
}
