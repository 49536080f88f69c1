// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
)

// log is a logger that is initialized with no output filters. This means
// the package will not perform any logging by default until the caller
// requests it.
var log = slog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}

// invSummary returns a getdata/inv vector list as a human-readable string
// for debug logging.
func invSummary(invList []*wire.InvVect) string {
	invLen := len(invList)
	if invLen == 0 {
		return "empty"
	}

	if invLen == 1 {
		iv := invList[0]
		switch iv.Type {
		case wire.InvTypeBlock:
			return fmt.Sprintf("block %s", iv.Hash)
		case wire.InvTypeTx:
			return fmt.Sprintf("tx %s", iv.Hash)
		case wire.InvTypeFilteredBlock:
			return fmt.Sprintf("filtered block %s", iv.Hash)
		}
		return fmt.Sprintf("unknown (%d) %s", uint32(iv.Type), iv.Hash)
	}

	var numTxns, numBlocks uint64
	for _, iv := range invList {
		switch iv.Type {
		case wire.InvTypeTx:
			numTxns++
		case wire.InvTypeBlock:
			numBlocks++
		}
	}
	diff := uint64(invLen) - (numTxns + numBlocks)
	return fmt.Sprintf("txns %d, blocks %d, other %d", numTxns, numBlocks, diff)
}

// locatorSummary returns a getheaders locator as a human-readable string
// for debug logging.
func locatorSummary(locator []chainhash.Hash, stop chainhash.Hash) string {
	if len(locator) == 0 {
		return fmt.Sprintf("no locator, stop %s", stop)
	}
	return fmt.Sprintf("locator %s, stop %s", locator[0], stop)
}
