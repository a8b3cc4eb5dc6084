// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/hwcommander/coin"
	"github.com/btcsuite/hwcommander/commander"
	"github.com/btcsuite/hwcommander/engine"
	"github.com/btcsuite/hwcommander/registry"
	"github.com/btcsuite/hwcommander/verify"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to stderr and a write-end
// pipe of an initialized log rotator. Stdout carries responses only.
type logWriter struct {
	rotatorPipe *io.PipeWriter
}

// Write writes the data in b to stderr and the log rotator, if present.
func (w *logWriter) Write(b []byte) (int, error) {
	_, _ = os.Stderr.Write(b)
	if w.rotatorPipe != nil {
		_, _ = w.rotatorPipe.Write(b)
	}

	return len(b), nil
}

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	logOutput = &logWriter{}

	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logOutput)

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	hwcdLog = backendLog.Logger("HWCD")
	coinLog = backendLog.Logger("COIN")
	cmdrLog = backendLog.Logger("CMDR")
	engnLog = backendLog.Logger("ENGN")
	regyLog = backendLog.Logger("REGY")
	vrfyLog = backendLog.Logger("VRFY")
)

// Initialize package-global logger variables.
func init() {
	coin.UseLogger(coinLog)
	commander.UseLogger(cmdrLog)
	engine.UseLogger(engnLog)
	registry.UseLogger(regyLog)
	verify.UseLogger(vrfyLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"HWCD": hwcdLog,
	"COIN": coinLog,
	"CMDR": cmdrLog,
	"ENGN": engnLog,
	"REGY": regyLog,
	"VRFY": vrfyLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()

	logOutput.rotatorPipe = pw
	logRotator = r

	return nil
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// parseAndSetDebugLevels applies a validated --debuglevel value, either a
// single level or comma separated SUBSYS=level pairs.
func parseAndSetDebugLevels(debugLevel string) {
	if !strings.Contains(debugLevel, "=") {
		setLogLevels(debugLevel)
		return
	}

	setLogLevels(defaultLogLevel)
	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			continue
		}

		setLogLevel(fields[0], fields[1])
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)

	return subsystems
}
