// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import "github.com/decred/dcrd/chaincfg/chainhash"

// inFlightEntry is the value half of the process-wide in-flight ledger. It
// is keyed by block hash in Manager.blocksInFlight.
type inFlightEntry struct {
	peerID    int32
	index     BlockIndex
	haveIndex bool
}

// MarkInFlight records hash as requested from peerID. If hash is already
// present in the ledger under a different (or the same) owner, the prior
// entry is removed first so a hash is always owned by at most one peer,
// per invariant 6 in spec.md §3.
func (m *Manager) MarkInFlight(peerID int32, hash chainhash.Hash, index BlockIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeInFlightLocked(hash)
	m.blocksInFlight[hash] = inFlightEntry{
		peerID:    peerID,
		index:     index,
		haveIndex: index != nil,
	}
	m.inFlightCount[peerID]++
}

// removeInFlightLocked removes hash from the ledger and decrements its
// owner's count. m.mu must already be held for writing.
func (m *Manager) removeInFlightLocked(hash chainhash.Hash) bool {
	entry, ok := m.blocksInFlight[hash]
	if !ok {
		return false
	}
	delete(m.blocksInFlight, hash)
	if _, ok := m.inFlightCount[entry.peerID]; ok {
		m.inFlightCount[entry.peerID]--
	}
	return true
}

// MarkReceived removes hash from the in-flight ledger and decrements its
// owner's count. It returns whether an entry was actually removed, so
// callers can tell an unrequested block apart from an expected one.
func (m *Manager) MarkReceived(hash chainhash.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeInFlightLocked(hash)
}

// IsInFlight reports whether hash is currently requested from any peer.
func (m *Manager) IsInFlight(hash chainhash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blocksInFlight[hash]
	return ok
}

// alreadyAskedForBlockLocked is an alias of IsInFlight used internally by
// the download-window walk in ancestor.go, matching the naming in
// original_source/src/net/requestmanager.cpp. m.mu must already be held (for
// read or write) by the caller.
func (m *Manager) alreadyAskedForBlockLocked(hash chainhash.Hash) bool {
	_, ok := m.blocksInFlight[hash]
	return ok
}

// BlocksInFlight returns the number of blocks currently requested from
// peerID.
func (m *Manager) BlocksInFlight(peerID int32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int(m.inFlightCount[peerID])
}
