// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// PeerState houses everything the manager tracks about a single connected
// peer's sync progress. Zero-valued sync fields describe a peer that has
// announced nothing yet.
type PeerState struct {
	id       int32
	addr     string
	addrName string

	// isOneShot and isClient are read-only after construction; they come
	// from the transport layer's connection classification.
	isOneShot bool
	isClient  bool

	bestKnownBlock  BlockIndex
	bestHeaderSent  BlockIndex
	lastCommonBlock BlockIndex
	hashLastUnknown chainhash.Hash
	hasLastUnknown  bool

	preferHeaders     bool
	preferredDownload bool

	syncStarted                bool
	firstHeadersReceived       bool
	firstHeadersExpectedHeight int64
	syncStartTime              time.Time
}

// ID returns the peer identifier this state was created for.
func (ps *PeerState) ID() int32 { return ps.id }

// Addr returns the peer's endpoint address.
func (ps *PeerState) Addr() string { return ps.addr }

// AddrName returns the peer's endpoint address name.
func (ps *PeerState) AddrName() string { return ps.addrName }

// BestKnownBlock returns the deepest block-index entry with non-zero
// chain-work known to be held by this peer, or nil.
func (ps *PeerState) BestKnownBlock() BlockIndex { return ps.bestKnownBlock }

// LastCommonBlock returns the deepest block-index entry known to be on a
// chain shared with this peer, or nil.
func (ps *PeerState) LastCommonBlock() BlockIndex { return ps.lastCommonBlock }

// SyncStarted reports whether the initial getheaders has been issued to
// this peer.
func (ps *PeerState) SyncStarted() bool { return ps.syncStarted }

// PreferredDownload reports whether this peer is eligible as a preferred
// download source.
func (ps *PeerState) PreferredDownload() bool { return ps.preferredDownload }

// InitializePeer inserts a fresh PeerState and a zero in-flight count for
// peerID. It returns ErrDuplicatePeer if peerID is already present, which
// indicates a bug in the caller: peer ids must be unique per connection and
// RemovePeer must be called before a given id is reused.
func (m *Manager) InitializePeer(peerID int32, addr, addrName string, isOneShot, isClient bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.peers[peerID]; ok {
		return newManagerError(ErrDuplicatePeer, peerID)
	}
	m.peers[peerID] = &PeerState{
		id:        peerID,
		addr:      addr,
		addrName:  addrName,
		isOneShot: isOneShot,
		isClient:  isClient,
	}
	m.inFlightCount[peerID] = 0
	log.Debugf("Initialized request manager state for peer %d (%s)", peerID, addrName)
	return nil
}

// RemovePeer drops the PeerState for peerID, adjusts the global preferred
// download counter if this peer contributed to it, and releases any
// in-flight ledger entries it owned so other peers may be asked for those
// blocks instead. It is a no-op if the peer is not known.
func (m *Manager) RemovePeer(peerID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.peers[peerID]
	if !ok {
		return
	}
	if state.preferredDownload {
		m.nPreferredDownload.Add(-1)
	}
	for hash, entry := range m.blocksInFlight {
		if entry.peerID == peerID {
			delete(m.blocksInFlight, hash)
		}
	}
	delete(m.inFlightCount, peerID)
	delete(m.peers, peerID)
	log.Debugf("Removed request manager state for peer %d", peerID)
}

// state returns the PeerState for peerID while m.mu is already held by the
// caller, or an ErrUnknownPeer error. Every exported operation that
// addresses a specific peer is expected to have already called
// InitializePeer for it; a miss here indicates a bug in the caller.
func (m *Manager) state(peerID int32) (*PeerState, error) {
	state, ok := m.peers[peerID]
	if !ok {
		return nil, newManagerError(ErrUnknownPeer, peerID)
	}
	return state, nil
}

// UpdatePreferredDownload recomputes whether peerID should count towards
// the preferred-download pool. A peer is preferred iff it is not one-shot
// and not a light/filtered-only client. The process-wide counter is
// adjusted by the delta between the old and new value atomically with the
// state field.
func (m *Manager) UpdatePreferredDownload(peerID int32, isOneShot, isClient bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	if state.preferredDownload {
		m.nPreferredDownload.Add(-1)
	}
	state.isOneShot = isOneShot
	state.isClient = isClient
	state.preferredDownload = !isOneShot && !isClient
	if state.preferredDownload {
		m.nPreferredDownload.Add(1)
	}
	return nil
}

// SetPreferHeaders records that peerID has requested headers-first
// announcement.
func (m *Manager) SetPreferHeaders(peerID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	state.preferHeaders = true
	return nil
}

// PreferHeaders reports whether peerID has requested headers-first
// announcement.
func (m *Manager) PreferHeaders(peerID int32) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.state(peerID)
	if err != nil {
		return false, err
	}
	return state.preferHeaders, nil
}

// SetBestHeaderSent records the deepest header this node has pushed to
// peerID.
func (m *Manager) SetBestHeaderSent(peerID int32, index BlockIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	state.bestHeaderSent = index
	return nil
}

// PeerHasHeader reports whether index is known to be held by peerID,
// either because it is an ancestor of the peer's best known block or of the
// header this node has already sent it.
func (m *Manager) PeerHasHeader(peerID int32, index BlockIndex) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.state(peerID)
	if err != nil {
		return false, err
	}
	if state.bestKnownBlock != nil {
		if anc := state.bestKnownBlock.Ancestor(index.Height()); anc != nil && anc.Hash() == index.Hash() {
			return true, nil
		}
	}
	if state.bestHeaderSent != nil {
		if anc := state.bestHeaderSent.Ancestor(index.Height()); anc != nil && anc.Hash() == index.Hash() {
			return true, nil
		}
	}
	return false, nil
}

// NodeStateStats is a snapshot of a peer's sync progress used for status
// reporting.
type NodeStateStats struct {
	SyncHeight      int64
	CommonHeight    int64
	HeightsInFlight []int64
}

// GetNodeStateStats returns a snapshot of peerID's sync progress. The
// second return value is false when peerID is unknown; this corrects the
// inverted condition present in the original source (see Q2 in DESIGN.md).
func (m *Manager) GetNodeStateStats(peerID int32) (NodeStateStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.peers[peerID]
	if !ok {
		return NodeStateStats{}, false
	}
	stats := NodeStateStats{SyncHeight: -1, CommonHeight: -1}
	if state.bestKnownBlock != nil {
		stats.SyncHeight = state.bestKnownBlock.Height()
	}
	if state.lastCommonBlock != nil {
		stats.CommonHeight = state.lastCommonBlock.Height()
	}
	for _, entry := range m.blocksInFlight {
		if entry.peerID == peerID && entry.index != nil {
			stats.HeightsInFlight = append(stats.HeightsInFlight, entry.index.Height())
		}
	}
	return stats, true
}
