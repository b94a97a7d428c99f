// Copyright 2025 Certen Protocol
//
// Wire codec tests: symmetry for every message id and frame bounds.

package network

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/certen/zkpow-node/pkg/types"
)

func sampleBlock() *types.Block {
	tx := &types.Transaction{
		OldSerialNumbers: []types.Hash{types.SHA256([]byte("sn"))},
		NewCommitments:   []types.Hash{types.SHA256([]byte("cm"))},
		LedgerDigest:     types.SHA256([]byte("digest")),
		InnerCircuitID:   types.SHA256([]byte("circuit")),
		ValueBalance:     -42,
		Signatures:       make([]types.Signature, 1),
		Proof:            []byte{1, 2, 3},
		EncryptedRecords: [][]byte{{9}},
	}
	return &types.Block{
		Header: types.BlockHeader{
			PreviousBlockHash: types.SHA256([]byte("parent")),
			Time:              1_725_000_555,
			DifficultyTarget:  12345,
			Nonce:             6,
		},
		Transactions: []*types.Transaction{tx},
	}
}

func TestCodec_SymmetricForEveryMessage(t *testing.T) {
	block := sampleBlock()
	messages := []Message{
		&BlockRequest{StartHeight: 3, EndHeight: 9},
		&BlockResponse{Block: block},
		&ChallengeRequest{ListenerPort: 4130, BlockHeight: 77},
		&ChallengeResponse{Header: &block.Header},
		&Disconnect{},
		&PeerRequest{},
		&PeerResponse{Addresses: []netip.AddrPort{
			netip.MustParseAddrPort("10.0.0.1:4130"),
			netip.MustParseAddrPort("[2001:db8::1]:4131"),
		}},
		&Ping{Version: 1},
		&Pong{Locators: []types.Hash{types.SHA256([]byte("l0")), types.SHA256([]byte("l1"))}},
		&UnconfirmedBlock{Block: block},
		&UnconfirmedTransaction{Transaction: block.Transactions[0]},
	}

	for _, msg := range messages {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, msg); err != nil {
			t.Fatalf("%s: write: %v", msg.ID(), err)
		}
		decoded, err := ReadMessage(&buf, 0)
		if err != nil {
			t.Fatalf("%s: read: %v", msg.ID(), err)
		}
		if decoded.ID() != msg.ID() {
			t.Fatalf("id changed: sent %s, got %s", msg.ID(), decoded.ID())
		}

		// Re-encoding must be byte identical.
		var first, second bytes.Buffer
		if err := msg.EncodePayload(&first); err != nil {
			t.Fatal(err)
		}
		if err := decoded.EncodePayload(&second); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first.Bytes(), second.Bytes()) {
			t.Errorf("%s: payload not symmetric", msg.ID())
		}
	}
}

func TestCodec_OversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, &UnconfirmedBlock{Block: sampleBlock()}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadMessage(&buf, 16); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCodec_UnknownMessageID(t *testing.T) {
	// length=2, id=0x00ff, empty payload.
	frame := []byte{0x02, 0x00, 0x00, 0x00, 0xff, 0x00}
	if _, err := ReadMessage(bytes.NewReader(frame), 0); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestCodec_TrailingPayloadRejected(t *testing.T) {
	var payload bytes.Buffer
	msg := &Ping{Version: 1}
	if err := msg.EncodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	payload.WriteByte(0xcc)

	var frame bytes.Buffer
	frame.Write([]byte{byte(payload.Len() + 2), 0, 0, 0})
	frame.Write([]byte{byte(MsgPing), 0})
	frame.Write(payload.Bytes())

	if _, err := ReadMessage(&frame, 0); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage, got %v", err)
	}
}
