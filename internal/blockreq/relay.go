// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"container/list"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/wire"
)

// relayDeadline pairs an expiration time with the hash it applies to, kept
// in a deque ordered by insertion (and therefore by deadline, since the TTL
// is constant) so expiry only ever needs to look at the front.
type relayDeadline struct {
	deadline time.Time
	hash     chainhash.Hash
}

// relayCache is a short-TTL mapping from transaction id to the raw
// transaction, used to answer re-requests for a transaction this node has
// recently accepted or relayed. It is guarded by its own mutex, independent
// of Manager.mu, matching cs_map_relay in spec.md §5.
type relayCache struct {
	mu         sync.Mutex
	entries    map[chainhash.Hash]*wire.MsgTx
	expiration list.List // of relayDeadline

	// recentlyLogged is a best-effort duplicate-announcement filter used
	// only to avoid a noisy repeated debug line for a getdata on a
	// transaction relayed moments ago; it has no effect on
	// FindAndPushTx/TrackTxRelay semantics.
	recentlyLogged *lru.Set[chainhash.Hash]
}

// newRelayCache returns a relayCache ready to use.
func newRelayCache() relayCache {
	return relayCache{
		entries:        make(map[chainhash.Hash]*wire.MsgTx),
		recentlyLogged: lru.NewSet[chainhash.Hash](256),
	}
}

// expireLocked removes every entry whose deadline is at or before now. r.mu
// must already be held.
func (r *relayCache) expireLocked(now time.Time) {
	for r.expiration.Len() > 0 {
		front := r.expiration.Front()
		dl := front.Value.(relayDeadline)
		if dl.deadline.After(now) {
			break
		}
		delete(r.entries, dl.hash)
		r.expiration.Remove(front)
	}
}

// TrackTxRelay expires stale entries and then records tx for
// RelayExpiryInterval so a subsequent getdata for it can be answered
// without a trip back to the mempool. It is a no-op if tx is already
// tracked.
func (m *Manager) TrackTxRelay(tx *wire.MsgTx, txHash chainhash.Hash, now time.Time) {
	m.relay.mu.Lock()
	defer m.relay.mu.Unlock()

	m.relay.expireLocked(now)
	if _, ok := m.relay.entries[txHash]; ok {
		return
	}
	m.relay.entries[txHash] = tx
	m.relay.expiration.PushBack(relayDeadline{
		deadline: now.Add(RelayExpiryInterval),
		hash:     txHash,
	})
}

// FindAndPushTx sends the tracked transaction for hash through link and
// reports whether it was found.
func (m *Manager) FindAndPushTx(link PeerLink, hash chainhash.Hash) bool {
	m.relay.mu.Lock()
	tx, ok := m.relay.entries[hash]
	if ok && !m.relay.recentlyLogged.Contains(hash) {
		m.relay.recentlyLogged.Put(hash)
		log.Debugf("Answering getdata for relayed tx %s", hash)
	}
	m.relay.mu.Unlock()

	if !ok {
		return false
	}
	link.SendTx(tx)
	return true
}
