// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/hwcommander/commander"
	"github.com/btcsuite/hwcommander/engine"
	"github.com/btcsuite/hwcommander/registry"
	"github.com/btcsuite/hwcommander/verify"
	flags "github.com/jessevdk/go-flags"
)

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := hwcdMain(); err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}

		os.Exit(1)
	}
}

// hwcdMain is the work horse of the simulator. It wires the device together
// and serves requests until stdin is closed or a signal arrives.
func hwcdMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	err = initLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			_ = logRotator.Close()
		}
	}()

	parseAndSetDebugLevels(cfg.DebugLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	c, cleanup, err := newDevice(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	hwcdLog.Infof("Device ready, enabled coins: %v", cfg.policy.Enabled())

	err = serve(ctx, os.Stdin, os.Stdout, c)
	if errors.Is(err, context.Canceled) {
		hwcdLog.Info("Shutdown requested")
		return nil
	}

	return err
}

// newDevice wires the commander to a software engine, the registry database
// and the configured confirmer. The returned function releases all of them.
func newDevice(cfg *config) (*commander.Commander, func(), error) {
	seed, err := loadOrCreateSeed(cfg.SeedFile)
	if err != nil {
		return nil, nil, err
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			hwcdLog.Errorf("Unable to close database: %v", err)
		}
	}

	reg, err := registry.New(db, cfg.policy)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	confirmer, closeConfirmer, err := newConfirmer(cfg)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	cleanup := func() {
		closeConfirmer()
		closeDB()
	}

	gate := verify.NewGate(confirmer, cfg.ConfirmTimeout)
	e, err := engine.New(seed, cfg.policy, reg, gate)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return commander.New(e, gate), cleanup, nil
}

// newConfirmer returns the confirmer selected by the config and a function
// releasing it.
func newConfirmer(cfg *config) (verify.Confirmer, func(), error) {
	if cfg.AutoConfirm {
		hwcdLog.Warn("Auto confirming every request")
		return autoConfirmer{}, func() {}, nil
	}

	tty, err := openTerminal()
	if err != nil {
		return nil, nil, fmt.Errorf("%w (use --autoconfirm for "+
			"unattended runs)", err)
	}

	return newPromptConfirmer(tty, tty), func() { _ = tty.Close() }, nil
}

// openDB opens the registry database, creating it on first use.
func openDB(cfg *config) (walletdb.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.DataDir, defaultDBFilename)
	if fileExists(dbPath) {
		return walletdb.Open("bdb", dbPath, true, cfg.DBTimeout, false)
	}

	hwcdLog.Infof("Creating registry database %v", dbPath)

	return walletdb.Create("bdb", dbPath, true, cfg.DBTimeout, false)
}

// loadOrCreateSeed reads the hex encoded seed at path. A new random seed is
// written if the file does not exist yet.
func loadOrCreateSeed(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, err := hex.DecodeString(strings.TrimSpace(string(content)))
		if err != nil {
			return nil, fmt.Errorf("invalid seed file %v: %w", path, err)
		}

		if len(seed) < hdkeychain.MinSeedBytes ||
			len(seed) > hdkeychain.MaxSeedBytes {

			return nil, fmt.Errorf("invalid seed file %v: %w", path,
				hdkeychain.ErrInvalidSeedLen)
		}

		return seed, nil

	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	err = os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600)
	if err != nil {
		return nil, err
	}

	hwcdLog.Infof("Created new seed in %v", path)

	return seed, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}
