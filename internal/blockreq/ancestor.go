// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"github.com/decred/dcrd/wire"
)

// LastCommonAncestor returns the deepest block-index entry that a and b
// have in common. Both a and b must be non-nil and reach the same genesis
// root; on well-formed input the result is never nil.
func LastCommonAncestor(a, b BlockIndex) BlockIndex {
	if a.Height() > b.Height() {
		a = a.Ancestor(b.Height())
	} else if b.Height() > a.Height() {
		b = b.Ancestor(a.Height())
	}
	for a != nil && b != nil && a.Hash() != b.Hash() {
		a = a.Prev()
		b = b.Prev()
	}
	return a
}

// FindNextBlocksToDownload extends out with up to count block-index entries
// that peerID should be asked to supply next, skipping blocks already held
// locally, already in flight, or outside the download window. It returns
// the possibly-extended slice.
//
// See spec.md §4.6 for the full walk description; this is a direct
// translation of LastCommonAncestor/FindNextBlocksToDownload in
// original_source/src/net/requestmanager.cpp.
func (m *Manager) FindNextBlocksToDownload(peerID int32, count int, out []BlockIndex) ([]BlockIndex, error) {
	if count <= 0 {
		return out, nil
	}
	if err := m.ProcessBlockAvailability(peerID); err != nil {
		return out, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return out, err
	}

	tip := m.cfg.Chain.Tip()
	if state.bestKnownBlock == nil || state.bestKnownBlock.ChainWork().Lt(tip.ChainWork()) {
		// This peer has nothing we need.
		return out, nil
	}

	if state.lastCommonBlock == nil {
		// Bootstrap by guessing that an ancestor of our best tip at the
		// peer's reported height is the forking point. Guessing wrong in
		// either direction is not a problem; it is corrected next.
		guessHeight := state.bestKnownBlock.Height()
		if tip.Height() < guessHeight {
			guessHeight = tip.Height()
		}
		state.lastCommonBlock = m.cfg.Chain.BlockByHeight(guessHeight)
	}

	// Repair after a peer reorg: the previous lastCommonBlock may no longer
	// be an ancestor of the peer's current best known block.
	state.lastCommonBlock = LastCommonAncestor(state.lastCommonBlock, state.bestKnownBlock)
	if state.lastCommonBlock.Hash() == state.bestKnownBlock.Hash() {
		return out, nil
	}

	windowEnd := tip.Height() + BlockDownloadWindow
	maxHeight := state.bestKnownBlock.Height()
	if windowEnd+1 < maxHeight {
		maxHeight = windowEnd + 1
	}

	walk := state.lastCommonBlock
	for walk.Height() < maxHeight {
		// batch is capped by how far remains to maxHeight, but floored at
		// minAncestorBatch even when fewer blocks are still needed, since
		// BlockIndex.Ancestor costs about as much as stepping ~100 entries
		// anyway.
		need := int64(count - len(out))
		batch := need
		if batch < minAncestorBatch {
			batch = minAncestorBatch
		}
		if remaining := maxHeight - walk.Height(); batch > remaining {
			batch = remaining
		}

		// Materialize batch successors of walk toward bestKnownBlock,
		// shallow to deep: jump once to the deep end, then step Prev back
		// to fill in.
		toFetch := make([]BlockIndex, batch)
		deep := state.bestKnownBlock.Ancestor(walk.Height() + batch)
		toFetch[batch-1] = deep
		for i := batch - 1; i > 0; i-- {
			toFetch[i-1] = toFetch[i].Prev()
		}

		for _, p := range toFetch {
			hash := p.Hash()
			if m.alreadyAskedForBlockLocked(hash) {
				// Policy: no second-sourcing (see Q4 in DESIGN.md).
				continue
			}
			if !p.Status().IsValidTree() {
				// The peer is on a chain we consider invalid; abandon it.
				return out, nil
			}
			haveData := p.Status()&statusHaveData != 0 || m.cfg.Chain.Contains(p)
			if haveData {
				if p.ChainTx() > 0 {
					state.lastCommonBlock = p
				}
				continue
			}
			if p.Height() > windowEnd {
				return out, nil
			}
			out = append(out, p)
			if len(out) == count {
				return out, nil
			}
		}
		walk = toFetch[len(toFetch)-1]
	}
	return out, nil
}

// statusHaveData mirrors the "block data is present locally" flag that a
// real index additionally carries alongside StatusValidateTree. It is kept
// distinct from StatusValidateTree because a header can be known and valid
// long before its block body has been downloaded.
const statusHaveData BlockStatus = 1 << 1

// RequestNextBlocksToDownload asks peerID, via link, for as many of the
// next needed blocks as its remaining in-flight budget allows. It is a
// no-op for a disconnecting or light-client peer, or one already at the
// in-flight cap.
func (m *Manager) RequestNextBlocksToDownload(peerID int32, link PeerLink, disconnecting bool) error {
	m.mu.RLock()
	state, err := m.state(peerID)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	isClient := state.isClient
	inFlight := int(m.inFlightCount[peerID])
	m.mu.RUnlock()

	if disconnecting || isClient || inFlight >= MaxBlocksInFlightPerPeer {
		return nil
	}

	candidates, err := m.FindNextBlocksToDownload(peerID, MaxBlocksInFlightPerPeer-inFlight, nil)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	filtered := make([]BlockIndex, 0, len(candidates))
	for _, p := range candidates {
		hash := p.Hash()
		if m.cfg.Chain.AlreadyHaveBlock(&wire.InvVect{Type: wire.InvTypeBlock, Hash: hash}) {
			continue
		}
		filtered = append(filtered, p)
	}
	if len(filtered) == 0 {
		return nil
	}

	m.mu.Lock()
	toFetch := make([]BlockIndex, 0, len(filtered))
	for _, p := range filtered {
		if _, inFlight := m.blocksInFlight[p.Hash()]; inFlight {
			continue
		}
		toFetch = append(toFetch, p)
	}
	m.mu.Unlock()
	if len(toFetch) == 0 {
		return nil
	}

	invs := make([]*wire.InvVect, len(toFetch))
	for i, p := range toFetch {
		hash := p.Hash()
		invs[i] = &wire.InvVect{Type: wire.InvTypeBlock, Hash: hash}
	}
	log.Debugf("Requesting %s from peer %d", invSummary(invs), peerID)
	link.SendGetData(invs)
	for _, p := range toFetch {
		m.MarkInFlight(peerID, p.Hash(), p)
	}
	return nil
}
