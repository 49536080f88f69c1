// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/peer/v3"
	"github.com/decred/dcrd/wire"
)

// wireQueuer is the subset of *peer.Peer that PeerAdapter needs. It exists
// so tests can substitute a fake without spinning up a real connection.
type wireQueuer interface {
	QueueMessage(msg wire.Message, doneChan chan<- struct{})
}

// PeerAdapter satisfies PeerLink by queueing wire messages on a live
// peer.Peer connection. This is the only piece of this package that builds
// and queues wire messages; the manager itself only ever sends through the
// PeerLink interface.
type PeerAdapter struct {
	p wireQueuer
}

// NewPeerAdapter wraps p so it can be handed to Manager as a PeerLink.
func NewPeerAdapter(p *peer.Peer) *PeerAdapter {
	return &PeerAdapter{p: p}
}

// SendGetHeaders queues a getheaders message built from locator and stop.
func (a *PeerAdapter) SendGetHeaders(locator []chainhash.Hash, stop chainhash.Hash) {
	msg := wire.NewMsgGetHeaders()
	msg.HashStop = stop
	for i := range locator {
		if err := msg.AddBlockLocatorHash(&locator[i]); err != nil {
			log.Warnf("Failed to build getheaders locator: %v", err)
			return
		}
	}
	a.p.QueueMessage(msg, nil)
}

// SendGetData queues a getdata message for inv, splitting across multiple
// wire messages if inv exceeds the protocol's per-message inventory cap.
func (a *PeerAdapter) SendGetData(inv []*wire.InvVect) {
	msg := wire.NewMsgGetDataSizeHint(uint(len(inv)))
	for _, iv := range inv {
		if err := msg.AddInvVect(iv); err != nil {
			a.p.QueueMessage(msg, nil)
			msg = wire.NewMsgGetData()
			msg.AddInvVect(iv)
			continue
		}
	}
	if len(msg.InvList) > 0 {
		a.p.QueueMessage(msg, nil)
	}
}

// SendTx queues a tx message.
func (a *PeerAdapter) SendTx(tx *wire.MsgTx) {
	a.p.QueueMessage(tx, nil)
}
