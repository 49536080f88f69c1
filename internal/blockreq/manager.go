// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

const (
	// MaxBlocksInFlightPerPeer is the hard cap on the number of blocks that
	// may be simultaneously requested from a single peer.
	MaxBlocksInFlightPerPeer = 64

	// BlockDownloadWindow caps how far ahead of the local active chain tip
	// undownloaded blocks may be queued, bounding disk pressure under
	// pruned operation.
	BlockDownloadWindow = 1024

	// minAncestorBatch is the floor on how many successors are materialized
	// per outer iteration of the download-window walk. It amortizes the
	// cost of BlockIndex.Ancestor, which is roughly as expensive as
	// iterating ~100 entries even though it is logarithmic in height.
	minAncestorBatch = 128

	// RelayExpiryInterval is the TTL for entries tracked by RelayCache.
	// It must match the original wire-compatible value verbatim.
	RelayExpiryInterval = 15 * time.Minute

	// StaleTipThreshold is how old the local best header may be and still
	// count as fresh. While it is fresh, StartDownload fetches from any
	// eligible peer, regardless of preferred-download or one-shot status.
	StaleTipThreshold = 24 * time.Hour
)

// Config holds everything a Manager needs at construction time. Fields are
// treated as immutable for the lifetime of the Manager.
type Config struct {
	// Chain provides read-only access to the local block-index DAG and
	// active chain.
	Chain ChainView

	// TimeSource returns the peer-adjusted current time, used for the
	// stale-tip sync-start gate.
	TimeSource func() time.Time

	// IsImporting reports whether the node is currently importing a bulk
	// block dataset. Sync-start is suppressed while true.
	IsImporting func() bool

	// IsReindexing reports whether the node is currently reindexing the
	// block database. Sync-start is suppressed while true.
	IsReindexing func() bool
}

// Manager is a concurrency-safe orchestrator that decides, for each
// connected peer, which headers and blocks to request next. It composes a
// peer registry and a process-wide in-flight ledger under a single
// readers-writer lock (mirroring cs_requestmanager in spec.md §5), plus an
// independently-locked short-TTL transaction relay cache.
type Manager struct {
	cfg Config

	// mu guards peers, blocksInFlight, and inFlightCount together. Readers:
	// BlocksInFlight, PreferHeaders, GetNodeStateStats,
	// UpdateBestKnownBlockAll. Writers: every mutator.
	mu             sync.RWMutex
	peers          map[int32]*PeerState
	blocksInFlight map[chainhash.Hash]inFlightEntry
	inFlightCount  map[int32]int32

	nPreferredDownload atomic.Int32

	relay relayCache
}

// New returns a new Manager ready to track peers and in-flight requests.
func New(cfg *Config) *Manager {
	m := &Manager{
		cfg:            *cfg,
		peers:          make(map[int32]*PeerState),
		blocksInFlight: make(map[chainhash.Hash]inFlightEntry),
		inFlightCount:  make(map[int32]int32),
		relay:          newRelayCache(),
	}
	return m
}

// UpdateBlockAvailability resolves hash against the local chain index and
// records it as peerID's best known block, or as its pending unknown
// announcement if the index does not yet know it. Policy: the latest
// announced hash is assumed to be the peer's best; an earlier unresolved
// announcement is overwritten.
func (m *Manager) UpdateBlockAvailability(peerID int32, hash chainhash.Hash) error {
	index := m.cfg.Chain.LookupBlockIndex(&hash)

	if err := m.ProcessBlockAvailability(peerID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	if index != nil && isPositiveWork(index) {
		if state.bestKnownBlock == nil || index.ChainWork().GtEq(state.bestKnownBlock.ChainWork()) {
			log.Debugf("Updated peer %d best known block to %s (height %d)",
				peerID, index.Hash(), index.Height())
			state.bestKnownBlock = index
			state.hasLastUnknown = false
		}
		return nil
	}
	log.Debugf("Updated peer %d hash last unknown block to %s", peerID, hash)
	state.hashLastUnknown = hash
	state.hasLastUnknown = true
	return nil
}

// ProcessBlockAvailability idempotently promotes peerID's pending unknown
// announcement into its best known block if the local index has since
// learned that hash.
func (m *Manager) ProcessBlockAvailability(peerID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processBlockAvailabilityLocked(peerID)
}

// processBlockAvailabilityLocked is ProcessBlockAvailability with m.mu
// already held for writing.
func (m *Manager) processBlockAvailabilityLocked(peerID int32) error {
	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	if !state.hasLastUnknown {
		return nil
	}
	index := m.cfg.Chain.LookupBlockIndex(&state.hashLastUnknown)
	if index == nil || !isPositiveWork(index) {
		return nil
	}
	if state.bestKnownBlock == nil || index.ChainWork().GtEq(state.bestKnownBlock.ChainWork()) {
		state.bestKnownBlock = index
	}
	state.hasLastUnknown = false
	return nil
}

// isPositiveWork reports whether index carries non-zero cumulative work.
func isPositiveWork(index BlockIndex) bool {
	return index.ChainWork() != nil && !index.ChainWork().IsZero()
}

// UpdateBestKnownBlockAll returns the ids of every peer whose best known
// block is nil or has strictly less chain-work than newTip. Callers use
// this to decide which peers to announce a newly-accepted block to.
func (m *Manager) UpdateBestKnownBlockAll(newTip BlockIndex) []int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int32
	for id, state := range m.peers {
		if state.bestKnownBlock == nil || newTip.ChainWork().Gt(state.bestKnownBlock.ChainWork()) {
			ids = append(ids, id)
		}
	}
	return ids
}

// StartDownload evaluates whether peerID should begin the initial header
// sync and, if so, issues the first getheaders request through link.
//
// Eligibility: peerID is not a light/filtered-only client, the node is not
// importing or reindexing, and sync has not already started for this peer.
// Fetch-worthiness (whether we actually kick off the sync): the peer is a
// preferred-download source, or there are currently no preferred-download
// peers at all and this peer is not one-shot, or the local best header is
// within StaleTipThreshold of wall-clock.
func (m *Manager) StartDownload(peerID int32, link PeerLink) error {
	m.mu.Lock()

	state, err := m.state(peerID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if state.syncStarted || state.isClient {
		m.mu.Unlock()
		return nil
	}
	if m.cfg.IsImporting() || m.cfg.IsReindexing() {
		m.mu.Unlock()
		return nil
	}

	bestHeader := m.cfg.Chain.BestHeader()
	stale := m.cfg.TimeSource().Sub(bestHeader.Timestamp()) > StaleTipThreshold
	fetch := state.preferredDownload ||
		(m.nPreferredDownload.Load() == 0 && !state.isOneShot) ||
		!stale
	if !fetch {
		m.mu.Unlock()
		return nil
	}

	state.syncStarted = true
	state.firstHeadersExpectedHeight = m.cfg.Chain.Height()
	state.syncStartTime = m.cfg.TimeSource()

	// Start at the parent of the best known header, if possible, so the
	// getheaders response is non-empty even when the peer is fully caught
	// up. A non-empty response is what lets the reply itself initialize
	// bestKnownBlock.
	start := bestHeader
	if prev := bestHeader.Prev(); prev != nil {
		start = prev
	}
	m.mu.Unlock()

	locator := m.cfg.Chain.LocatorFromNode(start)
	log.Debugf("Initial getheaders to peer %d (%s)", peerID, locatorSummary(locator, zeroHash))
	link.SendGetHeaders(locator, zeroHash)
	return nil
}

// SetPeerFirstHeaderReceived gates whether peerID's chain is trusted for
// further download decisions: the first headers response after
// StartDownload must include a header at or beyond the height that was
// current locally at the moment sync started, guarding against a peer that
// answers with stale or truncated headers.
func (m *Manager) SetPeerFirstHeaderReceived(peerID int32, lastIndexInBatch BlockIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	if state.firstHeadersReceived {
		return nil
	}
	if lastIndexInBatch != nil && lastIndexInBatch.Height() >= state.firstHeadersExpectedHeight {
		state.firstHeadersReceived = true
		log.Debugf("Initial headers received for peer %d", peerID)
	}
	return nil
}

// SetPeerSyncStartTime stamps the current wall-clock time for peerID's most
// recent sync restart. Callers use this alongside BlocksInFlight to detect
// and disconnect stalled peers; this package performs no timeout of its
// own.
func (m *Manager) SetPeerSyncStartTime(peerID int32) error {
	now := m.cfg.TimeSource()
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.state(peerID)
	if err != nil {
		return err
	}
	state.syncStartTime = now
	return nil
}

// zeroHash is the wildcard stop-hash used to request headers without an
// upper bound.
var zeroHash chainhash.Hash
