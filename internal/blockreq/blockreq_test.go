// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"math/big"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
)

// testNode is a minimal BlockIndex used across the test files in this
// package. Work accumulates as height+1 per node, which is sufficient to
// order a single linear chain by work without needing to exercise every
// uint256 arithmetic method.
type testNode struct {
	hash      chainhash.Hash
	height    int64
	work      *uint256.Uint256
	timestamp time.Time
	status    BlockStatus
	chainTx   uint64
	parent    *testNode
}

func (n *testNode) Hash() chainhash.Hash        { return n.hash }
func (n *testNode) Height() int64               { return n.height }
func (n *testNode) ChainWork() *uint256.Uint256 { return n.work }
func (n *testNode) Timestamp() time.Time        { return n.timestamp }
func (n *testNode) Status() BlockStatus         { return n.status }
func (n *testNode) ChainTx() uint64             { return n.chainTx }

func (n *testNode) Prev() BlockIndex {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *testNode) Ancestor(height int64) BlockIndex {
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

// testHash deterministically derives a chainhash.Hash from a small integer
// so test chains are easy to build without real block serialization.
func testHash(n int64) chainhash.Hash {
	var h chainhash.Hash
	h[0] = byte(n)
	h[1] = byte(n >> 8)
	h[2] = byte(n >> 16)
	return h
}

// buildChain returns a linear chain of length blocks rooted at a fixed
// genesis, every entry marked as having a valid tree. No entry carries
// statusHaveData; local data is decided by fakeChain.Contains instead.
func buildChain(length int64, seed int64) []*testNode {
	nodes := make([]*testNode, 0, length)
	var parent *testNode
	for i := int64(0); i < length; i++ {
		work := new(uint256.Uint256).SetBig(big.NewInt(i + 1))
		node := &testNode{
			hash:      testHash(seed*1_000_000 + i),
			height:    i,
			work:      work,
			timestamp: time.Unix(1600000000+i*600, 0),
			status:    StatusValidateTree,
			chainTx:   uint64(i + 1),
			parent:    parent,
		}
		nodes = append(nodes, node)
		parent = node
	}
	return nodes
}

// fakeChain is a ChainView backed by a single slice of testNode, indexed by
// height, with no competing branches. Contains reports local data only for
// heights at or below activeHeight, which is how tests simulate a peer's
// chain extending past the point where local block data exists.
type fakeChain struct {
	nodes        []*testNode
	activeHeight int64
	byHash       map[chainhash.Hash]*testNode
}

func newFakeChain(nodes []*testNode) *fakeChain {
	fc := &fakeChain{
		nodes:        nodes,
		activeHeight: int64(len(nodes) - 1),
		byHash:       make(map[chainhash.Hash]*testNode, len(nodes)),
	}
	for _, n := range nodes {
		fc.byHash[n.hash] = n
	}
	return fc
}

func (fc *fakeChain) LookupBlockIndex(hash *chainhash.Hash) BlockIndex {
	n, ok := fc.byHash[*hash]
	if !ok {
		return nil
	}
	return n
}

func (fc *fakeChain) Tip() BlockIndex {
	return fc.nodes[fc.activeHeight]
}

func (fc *fakeChain) BestHeader() BlockIndex {
	return fc.nodes[len(fc.nodes)-1]
}

func (fc *fakeChain) BlockByHeight(height int64) BlockIndex {
	if height < 0 || height > fc.activeHeight {
		return nil
	}
	return fc.nodes[height]
}

func (fc *fakeChain) Height() int64 {
	return fc.activeHeight
}

func (fc *fakeChain) Contains(index BlockIndex) bool {
	h := index.Height()
	if h < 0 || h > fc.activeHeight {
		return false
	}
	return fc.nodes[h].hash == index.Hash()
}

func (fc *fakeChain) LocatorFromNode(index BlockIndex) []chainhash.Hash {
	return []chainhash.Hash{index.Hash()}
}

func (fc *fakeChain) AlreadyHaveBlock(inv *wire.InvVect) bool {
	n, ok := fc.byHash[inv.Hash]
	return ok && n.height <= fc.activeHeight
}

// fakeLink is a PeerLink that records what it was asked to send.
type fakeLink struct {
	getHeaders []chainhash.Hash
	stop       chainhash.Hash
	getData    []*wire.InvVect
	txsSent    []*wire.MsgTx
}

func (l *fakeLink) SendGetHeaders(locator []chainhash.Hash, stop chainhash.Hash) {
	l.getHeaders = locator
	l.stop = stop
}

func (l *fakeLink) SendGetData(inv []*wire.InvVect) {
	l.getData = append(l.getData, inv...)
}

func (l *fakeLink) SendTx(tx *wire.MsgTx) {
	l.txsSent = append(l.txsSent, tx)
}

// newTestManager returns a Manager over a fakeChain of the given length,
// with importing/reindexing both false and a fixed, non-advancing clock.
func newTestManager(chainLen int64) (*Manager, *fakeChain) {
	chain := newFakeChain(buildChain(chainLen, 1))
	m := New(&Config{
		Chain:        chain,
		TimeSource:   func() time.Time { return time.Unix(1700000000, 0) },
		IsImporting:  func() bool { return false },
		IsReindexing: func() bool { return false },
	})
	return m, chain
}
