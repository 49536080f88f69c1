// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"math/big"
	"sync"
	"time"

	"github.com/chainsync/blockreq/internal/blockreq"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
)

// blockNode is a minimal blockreq.BlockIndex implementation, standing in for
// the real validating block index that a full node would otherwise supply.
// It tracks just enough per-entry state (ancestry, work, timestamp) to drive
// the request manager's download-window walk.
type blockNode struct {
	hash      chainhash.Hash
	height    int64
	work      *uint256.Uint256
	timestamp time.Time
	status    blockreq.BlockStatus
	chainTx   uint64
	parent    *blockNode
}

func (n *blockNode) Hash() chainhash.Hash         { return n.hash }
func (n *blockNode) Height() int64                { return n.height }
func (n *blockNode) ChainWork() *uint256.Uint256  { return n.work }
func (n *blockNode) Timestamp() time.Time         { return n.timestamp }
func (n *blockNode) Status() blockreq.BlockStatus { return n.status }
func (n *blockNode) ChainTx() uint64              { return n.chainTx }
func (n *blockNode) Prev() blockreq.BlockIndex {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *blockNode) Ancestor(height int64) blockreq.BlockIndex {
	if height < 0 || height > n.height {
		return nil
	}
	walk := n
	for walk.height > height {
		if walk.parent == nil {
			return nil
		}
		walk = walk.parent
	}
	return walk
}

// chainIndex is a toy active-chain view: a single linear chain of blockNode
// entries kept both by height and by hash. It exists only so cmd/relaynoded
// has a concrete ChainView to hand the request manager; it performs no
// header validation and accepts any extension of its tip.
type chainIndex struct {
	mu        sync.RWMutex
	byHash    map[chainhash.Hash]*blockNode
	byHeight  []*blockNode
	bestIndex *blockNode
}

func newChainIndex(genesisHash chainhash.Hash) *chainIndex {
	genesis := &blockNode{
		hash:      genesisHash,
		height:    0,
		work:      new(uint256.Uint256),
		timestamp: time.Now(),
		status:    blockreq.StatusValidateTree,
		chainTx:   1,
	}
	ci := &chainIndex{
		byHash: map[chainhash.Hash]*blockNode{genesisHash: genesis},
	}
	ci.byHeight = append(ci.byHeight, genesis)
	ci.bestIndex = genesis
	return ci
}

// addHeader appends a new header atop the current best known header. It is
// used by the OnHeaders handler to grow the locally known header tree ahead
// of block data actually being downloaded.
func (ci *chainIndex) addHeader(hash chainhash.Hash, ts time.Time) *blockNode {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	if existing, ok := ci.byHash[hash]; ok {
		return existing
	}
	parent := ci.bestIndex
	work := new(uint256.Uint256).SetBig(big.NewInt(parent.height + 1))
	node := &blockNode{
		hash:      hash,
		height:    parent.height + 1,
		work:      work,
		timestamp: ts,
		status:    blockreq.StatusValidateTree,
		parent:    parent,
	}
	ci.byHash[hash] = node
	ci.byHeight = append(ci.byHeight, node)
	ci.bestIndex = node
	return node
}

func (ci *chainIndex) LookupBlockIndex(hash *chainhash.Hash) blockreq.BlockIndex {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	node, ok := ci.byHash[*hash]
	if !ok {
		return nil
	}
	return node
}

func (ci *chainIndex) Tip() blockreq.BlockIndex {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.byHeight[len(ci.byHeight)-1]
}

func (ci *chainIndex) BestHeader() blockreq.BlockIndex {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.bestIndex
}

func (ci *chainIndex) BlockByHeight(height int64) blockreq.BlockIndex {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	if height < 0 || int(height) >= len(ci.byHeight) {
		return nil
	}
	return ci.byHeight[height]
}

func (ci *chainIndex) Height() int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return int64(len(ci.byHeight) - 1)
}

func (ci *chainIndex) Contains(index blockreq.BlockIndex) bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	if int(index.Height()) >= len(ci.byHeight) || index.Height() < 0 {
		return false
	}
	return ci.byHeight[index.Height()].hash == index.Hash()
}

func (ci *chainIndex) LocatorFromNode(index blockreq.BlockIndex) []chainhash.Hash {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	var locator []chainhash.Hash
	node, ok := index.(*blockNode)
	if !ok {
		return locator
	}
	step := int64(1)
	for node != nil {
		locator = append(locator, node.hash)
		if node.height == 0 {
			break
		}
		next := node.height - step
		if next < 0 {
			next = 0
		}
		node = ci.byHeight[next]
		if len(locator) >= 10 {
			step *= 2
		}
	}
	return locator
}

func (ci *chainIndex) AlreadyHaveBlock(inv *wire.InvVect) bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	node, ok := ci.byHash[inv.Hash]
	return ok && node.chainTx > 0
}
