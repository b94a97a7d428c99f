// Copyright 2025 Certen Protocol
//
// Length-prefixed framing: u32 length (LE) || u16 message id (LE) || payload.
// The length covers the id and payload. Oversized frames are a protocol
// violation; callers close the connection.

package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a frame when the caller does not configure one.
const DefaultMaxFrameSize = 8 << 20

// WriteMessage frames and writes a message.
func WriteMessage(w io.Writer, msg Message) error {
	var payload bytes.Buffer
	if err := msg.EncodePayload(&payload); err != nil {
		return err
	}

	var head [6]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(payload.Len()+2))
	binary.LittleEndian.PutUint16(head[4:6], uint16(msg.ID()))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// ReadMessage reads one framed message, enforcing the maximum frame size.
func ReadMessage(r io.Reader, maxFrameSize uint32) (Message, error) {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBuf[:])
	if length < 2 {
		return nil, ErrMalformedMessage
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}

	id := MessageID(binary.LittleEndian.Uint16(frame[0:2]))
	msg, err := newMessage(id)
	if err != nil {
		return nil, err
	}

	payload := bytes.NewReader(frame[2:])
	if err := msg.DecodePayload(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, id, err)
	}
	if payload.Len() != 0 {
		return nil, fmt.Errorf("%w: %s: trailing payload bytes", ErrMalformedMessage, id)
	}
	return msg, nil
}
