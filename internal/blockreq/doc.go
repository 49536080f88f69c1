// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package blockreq implements a concurrency safe block request manager for a
peer-to-peer blockchain node.

For each connected peer it tracks the deepest block known to be held by that
peer and the deepest block known to be shared with the local chain, and uses
that to decide which headers and blocks to request next so the local chain
catches up to the best-work chain known across the network. It does this
without requesting the same block from a peer twice, without exceeding a
per-peer in-flight cap, and without wasting requests on peers that have
nothing new to offer.

The manager is deliberately isolated from wire framing, message dispatch,
block validation, and persistence. Those are supplied by the host process
through the ChainView and PeerLink interfaces.
*/
package blockreq
