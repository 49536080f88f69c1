// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainsync/blockreq/internal/blockreq"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "relaynoded.conf"
	defaultLogFilename    = "relaynoded.log"
	defaultLogLevel       = "info"
	defaultMaxPeers       = 125
	defaultBanDuration    = "24h"
)

// errSuppressUsage is returned from loadConfig for errors that have already
// been reported to the user, so callers should not also print the usage
// message.
type errSuppressUsage string

func (e errSuppressUsage) Error() string { return string(e) }

// config defines the configuration options for relaynoded.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	LogLevel   string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	// Listeners and MaxPeers are parsed but not used: relaynoded opens no
	// listener and sets no peer cap; it dials only ConnectPeers.
	Listeners    []string `long:"listen" description:"Add an interface/port to listen for connections"`
	ConnectPeers []string `long:"connect" description:"Connect only to the specified peers at startup"`
	MaxPeers     int      `long:"maxpeers" description:"Max number of inbound and outbound peers"`

	// BlockDownloadWindow and MaxInFlightPerPeer default to the block
	// request manager's package constants, and a value of zero or less
	// restores that default. They are not passed to the manager, which
	// always uses its package constants.
	BlockDownloadWindow int `long:"blockdownloadwindow" description:"Maximum height ahead of the local tip to queue for download"`
	MaxInFlightPerPeer  int `long:"maxinflightperpeer" description:"Maximum blocks requested from a single peer at once"`
}

// defaultHomeDir is the default data directory for relaynoded's config file
// and log output when the user does not override them.
func defaultHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, ".relaynoded")
}

// loadConfig reads the command line and any INI configuration file, in that
// order, with command line flags taking precedence, and returns the fully
// populated config. This mirrors the teacher's load-defaults, then
// config-file, then re-parse-command-line sequence.
func loadConfig() (*config, []string, error) {
	home := defaultHomeDir()
	cfg := config{
		ConfigFile:          filepath.Join(home, defaultConfigFilename),
		DataDir:             home,
		LogDir:              home,
		LogLevel:            defaultLogLevel,
		MaxPeers:            defaultMaxPeers,
		BlockDownloadWindow: blockreq.BlockDownloadWindow,
		MaxInFlightPerPeer:  blockreq.MaxBlocksInFlightPerPeer,
	}

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, nil, errSuppressUsage("help requested")
		}
		return nil, nil, err
	}
	if preCfg.ConfigFile != "" {
		cfg.ConfigFile = preCfg.ConfigFile
	}

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		parser := flags.NewIniParser(flags.NewParser(&cfg, flags.Default))
		if err := parser.ParseFile(cfg.ConfigFile); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, nil, errSuppressUsage("help requested")
		}
		return nil, nil, err
	}

	if cfg.BlockDownloadWindow <= 0 {
		cfg.BlockDownloadWindow = blockreq.BlockDownloadWindow
	}
	if cfg.MaxInFlightPerPeer <= 0 {
		cfg.MaxInFlightPerPeer = blockreq.MaxBlocksInFlightPerPeer
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	setLogLevels(cfg.LogLevel)

	return &cfg, remainingArgs, nil
}
