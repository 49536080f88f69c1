// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainsync/blockreq/internal/blockreq"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements io.Writer and writes to both standard output and the
// rotating log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// logRotator is the file rotator used by the daemon's loggers. It is nil
// until initLogRotator is called by loadConfig.
var logRotator *rotator.Rotator

var backendLog = slog.NewBackend(logWriter{})

var (
	log     = backendLog.Logger("MAIN")
	peerLog = backendLog.Logger("PEER")
	connLog = backendLog.Logger("CONN")
	reqLog  = backendLog.Logger("BREQ")
)

func init() {
	connmgr.UseLogger(connLog)
	blockreq.UseLogger(reqLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before
// the package-level log variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
	logRotator = r
}

// setLogLevels sets the logging level for every subsystem logger.
func setLogLevels(levelStr string) {
	level, ok := slog.LevelFromString(levelStr)
	if !ok {
		return
	}
	for _, l := range []slog.Logger{log, peerLog, connLog, reqLog} {
		l.SetLevel(level)
	}
}
