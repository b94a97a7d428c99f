// Copyright 2025 Certen Protocol
//
// Peer protocol messages. Every payload is little-endian with varint-prefixed
// vectors, matching the chain encoding.

package network

import (
	"io"
	"net/netip"

	"github.com/certen/zkpow-node/pkg/types"
)

// MessageID identifies a wire message.
type MessageID uint16

const (
	MsgBlockRequest MessageID = iota
	MsgBlockResponse
	MsgChallengeRequest
	MsgChallengeResponse
	MsgDisconnect
	MsgPeerRequest
	MsgPeerResponse
	MsgPing
	MsgPong
	MsgUnconfirmedBlock
	MsgUnconfirmedTransaction
)

// String returns the message name.
func (id MessageID) String() string {
	switch id {
	case MsgBlockRequest:
		return "BlockRequest"
	case MsgBlockResponse:
		return "BlockResponse"
	case MsgChallengeRequest:
		return "ChallengeRequest"
	case MsgChallengeResponse:
		return "ChallengeResponse"
	case MsgDisconnect:
		return "Disconnect"
	case MsgPeerRequest:
		return "PeerRequest"
	case MsgPeerResponse:
		return "PeerResponse"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	case MsgUnconfirmedBlock:
		return "UnconfirmedBlock"
	case MsgUnconfirmedTransaction:
		return "UnconfirmedTransaction"
	default:
		return "Unknown"
	}
}

// Message is a decoded wire message.
type Message interface {
	ID() MessageID
	EncodePayload(w io.Writer) error
	DecodePayload(r io.Reader) error
}

// BlockRequest asks for canon blocks in a height range, inclusive.
type BlockRequest struct {
	StartHeight uint32
	EndHeight   uint32
}

func (*BlockRequest) ID() MessageID { return MsgBlockRequest }

func (m *BlockRequest) EncodePayload(w io.Writer) error {
	if err := types.WriteUint32(w, m.StartHeight); err != nil {
		return err
	}
	return types.WriteUint32(w, m.EndHeight)
}

func (m *BlockRequest) DecodePayload(r io.Reader) error {
	var err error
	if m.StartHeight, err = types.ReadUint32(r); err != nil {
		return err
	}
	m.EndHeight, err = types.ReadUint32(r)
	return err
}

// BlockResponse carries one serialized block.
type BlockResponse struct {
	Block *types.Block
}

func (*BlockResponse) ID() MessageID { return MsgBlockResponse }

func (m *BlockResponse) EncodePayload(w io.Writer) error {
	return m.Block.Serialize(w)
}

func (m *BlockResponse) DecodePayload(r io.Reader) error {
	m.Block = new(types.Block)
	return m.Block.Deserialize(r)
}

// ChallengeRequest opens the connection handshake.
type ChallengeRequest struct {
	ListenerPort uint16
	BlockHeight  uint32
}

func (*ChallengeRequest) ID() MessageID { return MsgChallengeRequest }

func (m *ChallengeRequest) EncodePayload(w io.Writer) error {
	var buf [2]byte
	buf[0] = byte(m.ListenerPort)
	buf[1] = byte(m.ListenerPort >> 8)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return types.WriteUint32(w, m.BlockHeight)
}

func (m *ChallengeRequest) DecodePayload(r io.Reader) error {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	m.ListenerPort = uint16(buf[0]) | uint16(buf[1])<<8
	var err error
	m.BlockHeight, err = types.ReadUint32(r)
	return err
}

// ChallengeResponse answers the handshake with a header.
type ChallengeResponse struct {
	Header *types.BlockHeader
}

func (*ChallengeResponse) ID() MessageID { return MsgChallengeResponse }

func (m *ChallengeResponse) EncodePayload(w io.Writer) error {
	return m.Header.Serialize(w)
}

func (m *ChallengeResponse) DecodePayload(r io.Reader) error {
	m.Header = new(types.BlockHeader)
	return m.Header.Deserialize(r)
}

// Disconnect announces an orderly close.
type Disconnect struct{}

func (*Disconnect) ID() MessageID                  { return MsgDisconnect }
func (*Disconnect) EncodePayload(io.Writer) error  { return nil }
func (*Disconnect) DecodePayload(io.Reader) error  { return nil }

// PeerRequest asks for known peer addresses.
type PeerRequest struct{}

func (*PeerRequest) ID() MessageID                 { return MsgPeerRequest }
func (*PeerRequest) EncodePayload(io.Writer) error { return nil }
func (*PeerRequest) DecodePayload(io.Reader) error { return nil }

// PeerResponse lists known peer socket addresses.
type PeerResponse struct {
	Addresses []netip.AddrPort
}

func (*PeerResponse) ID() MessageID { return MsgPeerResponse }

func (m *PeerResponse) EncodePayload(w io.Writer) error {
	if err := types.WriteVarint(w, uint64(len(m.Addresses))); err != nil {
		return err
	}
	for _, addr := range m.Addresses {
		ip := addr.Addr().AsSlice()
		if err := types.WriteBytes(w, ip); err != nil {
			return err
		}
		var port [2]byte
		port[0] = byte(addr.Port())
		port[1] = byte(addr.Port() >> 8)
		if _, err := w.Write(port[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *PeerResponse) DecodePayload(r io.Reader) error {
	n, err := types.ReadVarint(r)
	if err != nil {
		return err
	}
	m.Addresses = make([]netip.AddrPort, 0, n)
	for i := uint64(0); i < n; i++ {
		ipBytes, err := types.ReadBytes(r)
		if err != nil {
			return err
		}
		ip, ok := netip.AddrFromSlice(ipBytes)
		if !ok {
			return ErrMalformedMessage
		}
		var port [2]byte
		if _, err := io.ReadFull(r, port[:]); err != nil {
			return err
		}
		m.Addresses = append(m.Addresses, netip.AddrPortFrom(ip, uint16(port[0])|uint16(port[1])<<8))
	}
	return nil
}

// Ping probes liveness and advertises the protocol version.
type Ping struct {
	Version uint32
}

func (*Ping) ID() MessageID { return MsgPing }

func (m *Ping) EncodePayload(w io.Writer) error {
	return types.WriteUint32(w, m.Version)
}

func (m *Ping) DecodePayload(r io.Reader) error {
	var err error
	m.Version, err = types.ReadUint32(r)
	return err
}

// Pong answers a ping with the sender's block-locator list.
type Pong struct {
	Locators []types.Hash
}

func (*Pong) ID() MessageID { return MsgPong }

func (m *Pong) EncodePayload(w io.Writer) error {
	if err := types.WriteVarint(w, uint64(len(m.Locators))); err != nil {
		return err
	}
	for _, h := range m.Locators {
		if err := types.WriteHash(w, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *Pong) DecodePayload(r io.Reader) error {
	n, err := types.ReadVarint(r)
	if err != nil {
		return err
	}
	m.Locators = make([]types.Hash, n)
	for i := range m.Locators {
		if m.Locators[i], err = types.ReadHash(r); err != nil {
			return err
		}
	}
	return nil
}

// UnconfirmedBlock gossips a freshly mined block.
type UnconfirmedBlock struct {
	Block *types.Block
}

func (*UnconfirmedBlock) ID() MessageID { return MsgUnconfirmedBlock }

func (m *UnconfirmedBlock) EncodePayload(w io.Writer) error {
	return m.Block.Serialize(w)
}

func (m *UnconfirmedBlock) DecodePayload(r io.Reader) error {
	m.Block = new(types.Block)
	return m.Block.Deserialize(r)
}

// UnconfirmedTransaction gossips an unconfirmed transaction.
type UnconfirmedTransaction struct {
	Transaction *types.Transaction
}

func (*UnconfirmedTransaction) ID() MessageID { return MsgUnconfirmedTransaction }

func (m *UnconfirmedTransaction) EncodePayload(w io.Writer) error {
	return m.Transaction.Serialize(w)
}

func (m *UnconfirmedTransaction) DecodePayload(r io.Reader) error {
	m.Transaction = new(types.Transaction)
	return m.Transaction.Deserialize(r)
}

// newMessage allocates the concrete type for an id.
func newMessage(id MessageID) (Message, error) {
	switch id {
	case MsgBlockRequest:
		return new(BlockRequest), nil
	case MsgBlockResponse:
		return new(BlockResponse), nil
	case MsgChallengeRequest:
		return new(ChallengeRequest), nil
	case MsgChallengeResponse:
		return new(ChallengeResponse), nil
	case MsgDisconnect:
		return new(Disconnect), nil
	case MsgPeerRequest:
		return new(PeerRequest), nil
	case MsgPeerResponse:
		return new(PeerResponse), nil
	case MsgPing:
		return new(Ping), nil
	case MsgPong:
		return new(Pong), nil
	case MsgUnconfirmedBlock:
		return new(UnconfirmedBlock), nil
	case MsgUnconfirmedTransaction:
		return new(UnconfirmedTransaction), nil
	default:
		return nil, ErrUnknownMessage
	}
}
