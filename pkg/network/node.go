// Copyright 2025 Certen Protocol
//
// Inbound peer service: accepts framed connections and routes gossip into the
// consensus engine. The full peer-book, handshake and outbound gossip live in
// the network collaborator; this service covers the node's serving side of
// the protocol.

package network

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/ledger"
)

// ProtocolVersion is the version number a Ping carries. The inbound service
// does not send pings and does not check the version of those it receives.
const ProtocolVersion uint32 = 1

// maxBlocksPerRequest caps a BlockRequest range.
const maxBlocksPerRequest = 256

// Node serves the peer protocol over accepted connections.
type Node struct {
	engine       *consensus.Engine
	store        *ledger.Store
	maxFrameSize uint32
	logger       *log.Logger

	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewNode builds the inbound service.
func NewNode(engine *consensus.Engine, maxFrameSize uint32) *Node {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Node{
		engine:       engine,
		store:        engine.Store(),
		maxFrameSize: maxFrameSize,
		logger:       log.New(log.Writer(), "[Network] ", log.LstdFlags),
		quit:         make(chan struct{}),
	}
}

// Serve accepts connections until the listener closes or Stop is called.
func (n *Node) Serve(ln net.Listener) {
	n.wg.Add(1)
	defer n.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-n.quit:
			default:
				n.logger.Printf("accept failed: %v", err)
			}
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleConn(conn)
		}()
	}
}

// Stop terminates connection handling.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.quit) })
	n.wg.Wait()
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	for {
		select {
		case <-n.quit:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))

		msg, err := ReadMessage(conn, n.maxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				n.logger.Printf("closing %s: %v", remote, err)
			}
			return
		}

		if err := n.handleMessage(conn, msg); err != nil {
			n.logger.Printf("closing %s after %s: %v", remote, msg.ID(), err)
			return
		}
		if msg.ID() == MsgDisconnect {
			return
		}
	}
}

func (n *Node) handleMessage(conn net.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch m := msg.(type) {
	case *Ping:
		locators, err := n.store.BlockLocatorHashes()
		if err != nil {
			return err
		}
		return WriteMessage(conn, &Pong{Locators: locators})

	case *Pong:
		// The sync controller consumes locator state via the peer book; the
		// serving side only acknowledges receipt.
		return nil

	case *ChallengeRequest:
		tip, err := n.engine.CanonTip()
		if err != nil {
			return err
		}
		header, err := n.store.GetHeader(tip.Hash)
		if err != nil {
			return err
		}
		return WriteMessage(conn, &ChallengeResponse{Header: header})

	case *BlockRequest:
		if m.EndHeight < m.StartHeight {
			return ErrMalformedMessage
		}
		end := m.EndHeight
		if end-m.StartHeight+1 > maxBlocksPerRequest {
			end = m.StartHeight + maxBlocksPerRequest - 1
		}
		for h := m.StartHeight; h <= end; h++ {
			hash, err := n.store.BlockHashAtHeight(h)
			if err != nil {
				break
			}
			block, err := n.store.GetBlock(hash)
			if err != nil {
				return err
			}
			if err := WriteMessage(conn, &BlockResponse{Block: block}); err != nil {
				return err
			}
		}
		return nil

	case *UnconfirmedBlock:
		err := n.engine.ReceiveBlock(ctx, m.Block)
		if err != nil && !errors.Is(err, consensus.ErrPreExistingBlock) && !errors.Is(err, consensus.ErrInvalidBlock) {
			return err
		}
		return nil

	case *UnconfirmedTransaction:
		err := n.engine.ReceiveTransaction(ctx, m.Transaction)
		if err != nil && !errors.Is(err, consensus.ErrPreExistingTransaction) && !errors.Is(err, consensus.ErrInvalidTransaction) {
			return err
		}
		return nil

	case *PeerRequest:
		return WriteMessage(conn, &PeerResponse{})

	case *Disconnect, *BlockResponse, *ChallengeResponse, *PeerResponse:
		return nil
	}
	return ErrUnknownMessage
}
