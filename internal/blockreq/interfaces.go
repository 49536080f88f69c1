// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
)

// BlockStatus is a bitmask of status flags for a block known to the local
// index. Only StatusValidateTree is exported here; the one other flag this
// package consults, statusHaveData, is defined in ancestor.go. The host's
// real index type carries many more.
type BlockStatus byte

// StatusValidateTree indicates a block's header, and the header of every
// ancestor, has passed the checks necessary to be considered part of a
// potentially-valid chain, without implying anything about the block's
// transactions.
const StatusValidateTree BlockStatus = 1 << iota

// BlockIndex is a handle to a single entry in the host's block index DAG.
// It is intentionally a narrow read-only view: the host owns the real
// storage (an arena of nodes linked by prev/skip pointers so ancestor
// lookups are O(log height)); this package never mutates it. Handles are
// kept across calls in PeerState and the in-flight ledger, so the host's
// index must outlive every handle it has given out.
type BlockIndex interface {
	// Hash returns the block hash this entry identifies.
	Hash() chainhash.Hash

	// Height returns the height of this entry within its chain.
	Height() int64

	// ChainWork returns the cumulative proof-of-work up to and including
	// this entry.
	ChainWork() *uint256.Uint256

	// Timestamp returns the block header timestamp for this entry.
	Timestamp() time.Time

	// Status returns the validation status flags recorded for this entry.
	Status() BlockStatus

	// ChainTx returns the total number of transactions in the chain up to
	// and including this entry, or zero if that count is not yet known
	// (an ancestor is still missing block data).
	ChainTx() uint64

	// Ancestor returns the ancestor of this entry at the given height, or
	// nil if height is out of range ([0, Height()]).
	Ancestor(height int64) BlockIndex

	// Prev returns the immediate parent of this entry, or nil for genesis.
	Prev() BlockIndex
}

// IsValidTree reports whether the StatusValidateTree flag is set.
func (s BlockStatus) IsValidTree() bool {
	return s&StatusValidateTree != 0
}

// ChainView is the read-only window onto the local block-index DAG and
// active chain that this package consults. It is supplied by the host and
// is never mutated by this package.
type ChainView interface {
	// LookupBlockIndex returns the index entry for hash, or nil if it is
	// not yet known locally.
	LookupBlockIndex(hash *chainhash.Hash) BlockIndex

	// Tip returns the current active chain tip.
	Tip() BlockIndex

	// BestHeader returns the deepest header known locally regardless of
	// whether the full block has been validated onto the active chain.
	BestHeader() BlockIndex

	// BlockByHeight returns the active-chain entry at height, or nil if
	// height exceeds the active chain height.
	BlockByHeight(height int64) BlockIndex

	// Height returns the height of the active chain tip.
	Height() int64

	// Contains reports whether index is on the active chain.
	Contains(index BlockIndex) bool

	// LocatorFromNode builds a getheaders/getblocks style block locator
	// starting from index.
	LocatorFromNode(index BlockIndex) []chainhash.Hash

	// AlreadyHaveBlock reports whether the block referenced by inv is
	// already known on disk or already in the validation pipeline.
	AlreadyHaveBlock(inv *wire.InvVect) bool
}

// PeerLink is the outbound capability a peer connection exposes to this
// package. Implementations must not block for long inside these calls; the
// manager never holds its internal lock across a call to PeerLink.
type PeerLink interface {
	// SendGetHeaders queues a getheaders message using the given locator
	// and stop hash.
	SendGetHeaders(locator []chainhash.Hash, stop chainhash.Hash)

	// SendGetData queues a getdata message for the given inventory
	// vectors.
	SendGetData(inv []*wire.InvVect)

	// SendTx queues a tx message carrying the given transaction.
	SendTx(tx *wire.MsgTx)
}
