// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command relaynoded is a minimal demonstration host for the block request
// manager package. It wires real peer, connection, and address management
// around internal/blockreq so the package's decisions are driven by an
// actual (if validation-free) chain of headers rather than a test double.
//
// It implements no block validation, persistence, or wallet/RPC surface;
// those are explicitly out of scope for the block request manager and are
// left to whatever full node embeds this package for real.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/chainsync/blockreq/internal/blockreq"
	"github.com/decred/dcrd/addrmgr/v3"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/connmgr/v3"
	peerpkg "github.com/decred/dcrd/peer/v3"
)

// nodeServer owns every piece of ambient infrastructure the block request
// manager needs a host to supply.
type nodeServer struct {
	cfg         *config
	chainParams *chaincfg.Params
	chain       *chainIndex
	addrManager *addrmgr.AddrManager
	connManager *connmgr.ConnManager
	reqMgr      *blockreq.Manager

	importing  bool
	reindexing bool
}

func newNodeServer(cfg *config) (*nodeServer, error) {
	chainParams := chaincfg.MainNetParams()

	s := &nodeServer{
		cfg:         cfg,
		chainParams: chainParams,
		chain:       newChainIndex(chainParams.GenesisHash),
	}

	s.reqMgr = blockreq.New(&blockreq.Config{
		Chain:        s.chain,
		TimeSource:   time.Now,
		IsImporting:  func() bool { return s.importing },
		IsReindexing: func() bool { return s.reindexing },
	})

	s.addrManager = addrmgr.New(cfg.DataDir, net.LookupIP)

	cmgr, err := connmgr.New(&connmgr.Config{
		TargetOutbound:  uint32(len(cfg.ConnectPeers)),
		RetryDuration:   10 * time.Second,
		OnConnection:    s.outboundPeerConnected,
		OnDisconnection: s.outboundPeerDisconnected,
		Dial:            s.attemptDial,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	s.connManager = cmgr

	return s, nil
}

// attemptDial wraps the raw TCP dial with address-manager bookkeeping: the
// remote address is recorded and marked attempted before the connection is
// actually made, mirroring the teacher's attemptDcrdDial.
func (s *nodeServer) attemptDial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	remoteAddr, err := s.addrManager.HostToNetAddress(host, uint16(port), 0)
	if err != nil {
		return nil, err
	}
	s.addrManager.AddAddress(remoteAddr, remoteAddr)
	if err := s.addrManager.Attempt(remoteAddr); err != nil {
		log.Errorf("Marking address %s as attempted failed: %v", addr, err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// outboundPeerConnected is invoked by the connection manager once an
// outbound TCP connection succeeds. It builds the peer.Peer, associates it
// with the connection, and lets the handshake drive request-manager
// registration through nodePeer.OnVersion.
func (s *nodeServer) outboundPeerConnected(c *connmgr.ConnReq, conn net.Conn) {
	sp := newNodePeer(s)
	p, err := peerpkg.NewOutboundPeer(sp.peerConfig(), c.Addr.String())
	if err != nil {
		peerLog.Warnf("Cannot create outbound peer %s: %v", c.Addr, err)
		s.connManager.Disconnect(c.ID())
		return
	}
	sp.Peer = p
	sp.AssociateConnection(conn)
}

// outboundPeerDisconnected records the last-seen time for a connection
// request's address once it drops, mirroring the address-manager upkeep the
// teacher performs when removing a peer.
func (s *nodeServer) outboundPeerDisconnected(c *connmgr.ConnReq) {
	remoteAddr, err := s.addrManager.DeserializeNetAddress(c.Addr.String())
	if err != nil {
		return
	}
	if err := s.addrManager.Connected(remoteAddr); err != nil {
		log.Debugf("Marking address %s as connected failed: %v", c.Addr, err)
	}
}

// connectSeeds issues an outbound connection request for every address in
// cfg.ConnectPeers.
func (s *nodeServer) connectSeeds(ctx context.Context) {
	for _, addr := range s.cfg.ConnectPeers {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			log.Warnf("Skipping invalid peer address %q: %v", addr, err)
			continue
		}
		s.connManager.Connect(ctx, &connmgr.ConnReq{Addr: tcpAddr, Permanent: true})
	}
}

func relayNodeMain() error {
	cfg, _, err := loadConfig()
	if err != nil {
		if _, ok := err.(errSuppressUsage); ok {
			return nil
		}
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s, err := newNodeServer(cfg)
	if err != nil {
		return err
	}

	log.Infof("relaynoded starting, genesis %s", s.chainParams.GenesisHash)
	go s.connManager.Run(ctx)
	s.connectSeeds(ctx)

	<-ctx.Done()
	log.Infof("relaynoded shutting down")
	return nil
}

func main() {
	if err := relayNodeMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
