// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"math/big"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
)

// TestStartDownloadInitialGetHeaders is spec scenario 2: a preferred-download
// peer with no prior sync gets exactly one getheaders built from the parent
// of the local best header, and its firstHeadersExpectedHeight is pinned to
// the local chain height as of that moment.
func TestStartDownloadInitialGetHeaders(t *testing.T) {
	t.Parallel()

	m, chain := newTestManager(101)
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}
	if err := m.UpdatePreferredDownload(1, false, false); err != nil {
		t.Fatalf("UpdatePreferredDownload: %v", err)
	}

	link := &fakeLink{}
	if err := m.StartDownload(1, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	if len(link.getHeaders) != 1 {
		t.Fatalf("getheaders locator len = %d, want 1", len(link.getHeaders))
	}
	wantLocator := chain.nodes[len(chain.nodes)-2].hash // parent of best header
	if link.getHeaders[0] != wantLocator {
		t.Fatalf("locator = %s, want %s", link.getHeaders[0], wantLocator)
	}
	if link.stop != (chainhash.Hash{}) {
		t.Fatalf("stop hash = %s, want zero hash", link.stop)
	}

	state, err := m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !state.syncStarted {
		t.Fatalf("syncStarted = false, want true")
	}
	if state.firstHeadersExpectedHeight != chain.Height() {
		t.Fatalf("firstHeadersExpectedHeight = %d, want %d",
			state.firstHeadersExpectedHeight, chain.Height())
	}

	// A second call must not re-send getheaders.
	link2 := &fakeLink{}
	if err := m.StartDownload(1, link2); err != nil {
		t.Fatalf("StartDownload (second call): %v", err)
	}
	if len(link2.getHeaders) != 0 {
		t.Fatalf("second StartDownload sent a getheaders, want none")
	}
}

// TestStartDownloadSkipsClientPeer ensures a light/filtered-only client is
// never sent the initial getheaders.
func TestStartDownloadSkipsClientPeer(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(10)
	if err := m.InitializePeer(1, "peer1", "peer1", false, true); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}

	link := &fakeLink{}
	if err := m.StartDownload(1, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if len(link.getHeaders) != 0 {
		t.Fatalf("StartDownload sent getheaders to a client peer")
	}
}

// TestStartDownloadSuppressedByImportOrReindex ensures sync-start is
// suppressed while a bulk import or reindex is in progress, regardless of
// preferred-download status.
func TestStartDownloadSuppressedByImportOrReindex(t *testing.T) {
	t.Parallel()

	chain := newFakeChain(buildChain(10, 1))
	importing, reindexing := true, false
	m := New(&Config{
		Chain:        chain,
		TimeSource:   func() time.Time { return time.Unix(1700000000, 0) },
		IsImporting:  func() bool { return importing },
		IsReindexing: func() bool { return reindexing },
	})
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}
	if err := m.UpdatePreferredDownload(1, false, false); err != nil {
		t.Fatalf("UpdatePreferredDownload: %v", err)
	}

	link := &fakeLink{}
	if err := m.StartDownload(1, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if len(link.getHeaders) != 0 {
		t.Fatalf("StartDownload sent getheaders while importing")
	}

	importing, reindexing = false, true
	link2 := &fakeLink{}
	if err := m.StartDownload(1, link2); err != nil {
		t.Fatalf("StartDownload (reindexing): %v", err)
	}
	if len(link2.getHeaders) != 0 {
		t.Fatalf("StartDownload sent getheaders while reindexing")
	}
}

// TestStartDownloadNoPreferredPeersFallsBackToAnyPeer exercises the branch
// where there are currently no preferred-download peers at all: a non-
// one-shot peer is still fetched from even without preferredDownload set.
func TestStartDownloadNoPreferredPeersFallsBackToAnyPeer(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(10)
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}
	// Deliberately not calling UpdatePreferredDownload, so
	// state.preferredDownload is false and n_preferred_download is 0.

	link := &fakeLink{}
	if err := m.StartDownload(1, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if len(link.getHeaders) != 1 {
		t.Fatalf("getheaders locator len = %d, want 1", len(link.getHeaders))
	}
}

// TestStartDownloadOneShotSkippedWithoutPreferredPeers ensures a one-shot
// peer is not used to fall back to when there are no preferred-download
// peers, and that the stale local tip leaves no other branch to fetch by.
func TestStartDownloadOneShotSkippedWithoutPreferredPeers(t *testing.T) {
	t.Parallel()

	chain := newFakeChain(buildChain(10, 1))
	m := New(&Config{
		Chain:        chain,
		TimeSource:   func() time.Time { return time.Unix(1600000000+9*600, 0).Add(48 * time.Hour) },
		IsImporting:  func() bool { return false },
		IsReindexing: func() bool { return false },
	})
	if err := m.InitializePeer(1, "peer1", "peer1", true, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}

	link := &fakeLink{}
	if err := m.StartDownload(1, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if len(link.getHeaders) != 0 {
		t.Fatalf("StartDownload sent getheaders to a one-shot peer with no preferred peers")
	}
}

// TestStartDownloadFreshTipFetchesFromAnyPeer ensures that when the local
// best header is within StaleTipThreshold of wall-clock, a non-preferred,
// non-one-shot peer is still used even though other preferred peers already
// exist, since the freshness branch of the fetch condition is independent
// of n_preferred_download.
func TestStartDownloadFreshTipFetchesFromAnyPeer(t *testing.T) {
	t.Parallel()

	chain := newFakeChain(buildChain(10, 1))
	recent := time.Unix(1600000000+9*600, 0).Add(time.Hour)
	m := New(&Config{
		Chain:        chain,
		TimeSource:   func() time.Time { return recent },
		IsImporting:  func() bool { return false },
		IsReindexing: func() bool { return false },
	})
	// One already-preferred peer exists, so n_preferred_download > 0 and the
	// "no preferred peers" branch does not apply; only the freshness branch
	// can let peer 2 through.
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}
	if err := m.UpdatePreferredDownload(1, false, false); err != nil {
		t.Fatalf("UpdatePreferredDownload: %v", err)
	}
	if err := m.InitializePeer(2, "peer2", "peer2", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}

	link := &fakeLink{}
	if err := m.StartDownload(2, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if len(link.getHeaders) != 1 {
		t.Fatalf("expected fresh-tip fallback to fetch from peer 2, getheaders len = %d", len(link.getHeaders))
	}
}

// TestStartDownloadStaleTipWithPreferredPeerSkipsOneShot mirrors
// TestStartDownloadOneShotSkippedWithoutPreferredPeers but spells out that
// the combination of a stale tip, an existing preferred peer (so the
// no-preferred-peers branch does not apply), and a one-shot candidate
// together suppress the fetch.
func TestStartDownloadStaleTipWithPreferredPeerSkipsOneShot(t *testing.T) {
	t.Parallel()

	chain := newFakeChain(buildChain(10, 1))
	farFuture := time.Unix(1600000000+9*600, 0).Add(StaleTipThreshold + time.Hour)
	m := New(&Config{
		Chain:        chain,
		TimeSource:   func() time.Time { return farFuture },
		IsImporting:  func() bool { return false },
		IsReindexing: func() bool { return false },
	})
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}
	if err := m.UpdatePreferredDownload(1, false, false); err != nil {
		t.Fatalf("UpdatePreferredDownload: %v", err)
	}
	if err := m.InitializePeer(2, "peer2", "peer2", true, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}

	link := &fakeLink{}
	if err := m.StartDownload(2, link); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if len(link.getHeaders) != 0 {
		t.Fatalf("StartDownload fetched from a one-shot peer with a stale tip and an existing preferred peer")
	}
}

// TestUpdateBlockAvailabilityMonotonic is P4: a peer's recorded
// bestKnownBlock only ever moves to strictly greater-or-equal chain work,
// never backwards.
func TestUpdateBlockAvailabilityMonotonic(t *testing.T) {
	t.Parallel()

	m, chain := newTestManager(100)
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}

	if err := m.UpdateBlockAvailability(1, chain.nodes[80].hash); err != nil {
		t.Fatalf("UpdateBlockAvailability(80): %v", err)
	}
	state, err := m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.bestKnownBlock.Height() != 80 {
		t.Fatalf("bestKnownBlock height = %d, want 80", state.bestKnownBlock.Height())
	}

	if err := m.UpdateBlockAvailability(1, chain.nodes[50].hash); err != nil {
		t.Fatalf("UpdateBlockAvailability(50): %v", err)
	}
	state, err = m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.bestKnownBlock.Height() != 80 {
		t.Fatalf("bestKnownBlock regressed to height %d after an older announcement", state.bestKnownBlock.Height())
	}

	if err := m.UpdateBlockAvailability(1, chain.nodes[99].hash); err != nil {
		t.Fatalf("UpdateBlockAvailability(99): %v", err)
	}
	state, err = m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.bestKnownBlock.Height() != 99 {
		t.Fatalf("bestKnownBlock height = %d, want 99", state.bestKnownBlock.Height())
	}
}

// TestUpdateBlockAvailabilityUnknownHashPending exercises the pending
// unknown-announcement path: a hash not yet in the local index is stashed
// rather than dropped, and is promoted once ProcessBlockAvailability (or any
// operation that calls it) observes the index now knows it.
func TestUpdateBlockAvailabilityUnknownHashPending(t *testing.T) {
	t.Parallel()

	m, chain := newTestManager(10)
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}

	unknown := testHash(999)
	if err := m.UpdateBlockAvailability(1, unknown); err != nil {
		t.Fatalf("UpdateBlockAvailability(unknown): %v", err)
	}
	state, err := m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.bestKnownBlock != nil {
		t.Fatalf("bestKnownBlock set for an unresolved hash")
	}
	if !state.hasLastUnknown || state.hashLastUnknown != unknown {
		t.Fatalf("pending unknown announcement not recorded")
	}

	// The index learns about it via a new entry sharing the stashed hash.
	node := &testNode{
		hash:      unknown,
		height:    5,
		work:      new(uint256.Uint256).SetBig(big.NewInt(6)),
		timestamp: chain.nodes[5].timestamp,
		status:    StatusValidateTree,
		chainTx:   6,
		parent:    chain.nodes[4],
	}
	chain.byHash[unknown] = node

	if err := m.ProcessBlockAvailability(1); err != nil {
		t.Fatalf("ProcessBlockAvailability: %v", err)
	}
	state, err = m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.hasLastUnknown {
		t.Fatalf("hasLastUnknown still true after promotion")
	}
	if state.bestKnownBlock == nil || state.bestKnownBlock.Hash() != unknown {
		t.Fatalf("bestKnownBlock not promoted to the resolved hash")
	}
}

// TestSetPeerFirstHeaderReceivedGating is Q1: the gate only flips once the
// last header in a batch reaches the height that was current locally when
// sync started, guarding against a peer replying with stale headers.
func TestSetPeerFirstHeaderReceivedGating(t *testing.T) {
	t.Parallel()

	m, chain := newTestManager(101)
	if err := m.InitializePeer(1, "peer1", "peer1", false, false); err != nil {
		t.Fatalf("InitializePeer: %v", err)
	}
	if err := m.UpdatePreferredDownload(1, false, false); err != nil {
		t.Fatalf("UpdatePreferredDownload: %v", err)
	}
	if err := m.StartDownload(1, &fakeLink{}); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	if err := m.SetPeerFirstHeaderReceived(1, chain.nodes[50]); err != nil {
		t.Fatalf("SetPeerFirstHeaderReceived(50): %v", err)
	}
	state, err := m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.firstHeadersReceived {
		t.Fatalf("firstHeadersReceived = true after a batch short of the expected height")
	}

	if err := m.SetPeerFirstHeaderReceived(1, chain.nodes[100]); err != nil {
		t.Fatalf("SetPeerFirstHeaderReceived(100): %v", err)
	}
	state, err = m.state(1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !state.firstHeadersReceived {
		t.Fatalf("firstHeadersReceived = false after a batch reaching the expected height")
	}
}

// TestUpdateBestKnownBlockAll ensures only peers strictly behind newTip's
// chain-work (or with no recorded best known block at all) are returned.
func TestUpdateBestKnownBlockAll(t *testing.T) {
	t.Parallel()

	m, chain := newTestManager(100)
	for _, id := range []int32{1, 2, 3} {
		if err := m.InitializePeer(id, "peer", "peer", false, false); err != nil {
			t.Fatalf("InitializePeer(%d): %v", id, err)
		}
	}
	if err := m.UpdateBlockAvailability(1, chain.nodes[10].hash); err != nil {
		t.Fatalf("UpdateBlockAvailability(1): %v", err)
	}
	if err := m.UpdateBlockAvailability(2, chain.nodes[99].hash); err != nil {
		t.Fatalf("UpdateBlockAvailability(2): %v", err)
	}
	// Peer 3 never announces anything.

	ids := m.UpdateBestKnownBlockAll(chain.nodes[99])
	got := map[int32]bool{}
	for _, id := range ids {
		got[id] = true
	}
	if !got[1] {
		t.Fatalf("peer 1 (behind newTip) missing from result")
	}
	if !got[3] {
		t.Fatalf("peer 3 (no announcement) missing from result")
	}
	if got[2] {
		t.Fatalf("peer 2 (at newTip) incorrectly included in result")
	}
}
