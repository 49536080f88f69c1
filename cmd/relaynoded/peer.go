// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"sync/atomic"
	"time"

	"github.com/chainsync/blockreq/internal/blockreq"
	"github.com/decred/dcrd/chaincfg/chainhash"
	peerpkg "github.com/decred/dcrd/peer/v3"
	"github.com/decred/dcrd/wire"
)

// nextPeerID hands out process-unique ids for PeerState bookkeeping.
var nextPeerID atomic.Int32

// nodePeer bundles a live wire connection with the identity the request
// manager uses to address it. It plays the role of the teacher's
// serverPeer, cut down to only what the request manager needs.
type nodePeer struct {
	*peerpkg.Peer
	id   int32
	link *blockreq.PeerAdapter

	server *nodeServer
}

func newNodePeer(s *nodeServer) *nodePeer {
	return &nodePeer{
		id:     nextPeerID.Add(1),
		server: s,
	}
}

func (sp *nodePeer) newestBlock() (*chainhash.Hash, int64, error) {
	tip := sp.server.chain.Tip()
	hash := tip.Hash()
	return &hash, tip.Height(), nil
}

// peerConfig returns the peer.Config used for both inbound and outbound
// connections, wiring the message callbacks this node cares about back to
// sp and, through it, to the request manager.
func (sp *nodePeer) peerConfig() *peerpkg.Config {
	return &peerpkg.Config{
		NewestBlock: sp.newestBlock,
		Listeners: peerpkg.MessageListeners{
			OnVersion:  sp.OnVersion,
			OnVerAck:   sp.OnVerAck,
			OnHeaders:  sp.OnHeaders,
			OnInv:      sp.OnInv,
			OnGetData:  sp.OnGetData,
			OnTx:       sp.OnTx,
			OnNotFound: sp.OnNotFound,
		},
		UserAgentName:    "relaynoded",
		UserAgentVersion: "0.1.0",
		Net:              sp.server.chainParams.Net,
		ProtocolVersion:  wire.BatchedCFiltersV2Version,
	}
}

// OnVersion registers the peer with the request manager and asks
// StartDownload to kick off initial header download, which it does only if
// the manager's sync-start policy selects this peer.
func (sp *nodePeer) OnVersion(p *peerpkg.Peer, msg *wire.MsgVersion) {
	oneShot := false
	isClient := msg.Services&wire.SFNodeNetwork == 0
	if err := sp.server.reqMgr.InitializePeer(sp.id, p.Addr(), p.Addr(), oneShot, isClient); err != nil {
		peerLog.Warnf("Failed to initialize request manager state for peer %d: %v", sp.id, err)
		return
	}
	if err := sp.server.reqMgr.UpdatePreferredDownload(sp.id, oneShot, isClient); err != nil {
		peerLog.Warnf("Failed to update preferred-download state for peer %d: %v", sp.id, err)
	}
	sp.link = blockreq.NewPeerAdapter(p)
	if err := sp.server.reqMgr.StartDownload(sp.id, sp.link); err != nil {
		peerLog.Warnf("Failed to start download from peer %d: %v", sp.id, err)
	}

	// Mark the address as known good now that the version handshake has
	// completed, so future connection attempts prefer it.
	if na := p.NA(); na != nil {
		if err := sp.server.addrManager.Good(na); err != nil {
			peerLog.Debugf("Marking address %s as good failed: %v", p.Addr(), err)
		}
	}
}

// OnVerAck requests headers-first announcement now that the handshake has
// completed, matching the teacher's sendheaders exchange.
func (sp *nodePeer) OnVerAck(p *peerpkg.Peer, msg *wire.MsgVerAck) {
	if err := sp.server.reqMgr.SetPreferHeaders(sp.id); err != nil {
		peerLog.Warnf("Failed to record headers preference for peer %d: %v", sp.id, err)
	}
}

// OnHeaders folds newly announced headers into the local header tree, marks
// initial-sync progress, and immediately asks for the block data behind
// them.
func (sp *nodePeer) OnHeaders(p *peerpkg.Peer, msg *wire.MsgHeaders) {
	if len(msg.Headers) == 0 {
		return
	}
	var last *blockNode
	for _, h := range msg.Headers {
		last = sp.server.chain.addHeader(h.BlockHash(), h.Timestamp)
	}
	if err := sp.server.reqMgr.UpdateBlockAvailability(sp.id, last.Hash()); err != nil {
		peerLog.Warnf("Failed to update block availability for peer %d: %v", sp.id, err)
		return
	}
	if err := sp.server.reqMgr.SetPeerFirstHeaderReceived(sp.id, last); err != nil {
		peerLog.Warnf("Failed to record first-headers receipt for peer %d: %v", sp.id, err)
	}
	if err := sp.server.reqMgr.RequestNextBlocksToDownload(sp.id, sp.link, false); err != nil {
		peerLog.Warnf("Failed to request next blocks from peer %d: %v", sp.id, err)
	}
}

// OnInv treats an announced block hash the same as a headers announcement
// for availability-tracking purposes, and forwards it into the download
// pipeline.
func (sp *nodePeer) OnInv(p *peerpkg.Peer, msg *wire.MsgInv) {
	for _, iv := range msg.InvList {
		if iv.Type != wire.InvTypeBlock {
			continue
		}
		if err := sp.server.reqMgr.UpdateBlockAvailability(sp.id, iv.Hash); err != nil {
			peerLog.Warnf("Failed to update block availability for peer %d: %v", sp.id, err)
		}
	}
	if err := sp.server.reqMgr.RequestNextBlocksToDownload(sp.id, sp.link, false); err != nil {
		peerLog.Warnf("Failed to request next blocks from peer %d: %v", sp.id, err)
	}
}

// OnGetData answers a getdata for a transaction out of the short-lived
// relay cache; block getdata handling belongs to persistence, out of scope
// for this module.
func (sp *nodePeer) OnGetData(p *peerpkg.Peer, msg *wire.MsgGetData) {
	for _, iv := range msg.InvList {
		if iv.Type != wire.InvTypeTx {
			continue
		}
		if !sp.server.reqMgr.FindAndPushTx(sp.link, iv.Hash) {
			peerLog.Debugf("No relay entry for requested tx %s", iv.Hash)
		}
	}
}

// OnTx tracks the transaction in the relay cache so a later getdata for it
// can be answered by OnGetData.
func (sp *nodePeer) OnTx(p *peerpkg.Peer, msg *wire.MsgTx) {
	sp.server.reqMgr.TrackTxRelay(msg, msg.TxHash(), time.Now())
}

// OnNotFound releases the in-flight ledger entry so another peer can be
// asked for the same block.
func (sp *nodePeer) OnNotFound(p *peerpkg.Peer, msg *wire.MsgNotFound) {
	for _, iv := range msg.InvList {
		sp.server.reqMgr.MarkReceived(iv.Hash)
	}
}
