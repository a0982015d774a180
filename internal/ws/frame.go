package ws

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/roldriel/reqivo/internal/errs"
)

// Opcodes of RFC 6455 §5.2.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// Close codes used by the engine.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolErr   = 1002
	CloseMessageTooBig = 1009
)

func isControl(opcode byte) bool { return opcode&0x08 != 0 }

func isData(opcode byte) bool {
	return opcode == OpText || opcode == OpBinary || opcode == OpContinuation
}

type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

// applyMask XORs data with the 4-byte key in place.
func applyMask(data, key []byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}

// readFrame parses one frame off br. Server frames must be unmasked and
// carry zero reserved bits (no extensions are negotiated); control
// frames must be unfragmented with payloads of at most 125 bytes.
func readFrame(br *bufio.Reader, maxFrameSize int64) (*frame, error) {
	var head [2]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return nil, err
	}
	f := &frame{
		fin:    head[0]&0x80 != 0,
		opcode: head[0] & 0x0F,
	}
	if head[0]&0x70 != 0 {
		return nil, errs.New(errs.KindWebSocket, "read frame", "reserved bits set without negotiated extension")
	}
	if !isControl(f.opcode) && !isData(f.opcode) {
		return nil, errs.New(errs.KindWebSocket, "read frame", "unknown opcode 0x%x", f.opcode)
	}
	masked := head[1]&0x80 != 0
	if masked {
		return nil, errs.New(errs.KindWebSocket, "read frame", "server frame is masked")
	}

	length := int64(head[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(br, ext[:]); err != nil {
			return nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(br, ext[:]); err != nil {
			return nil, err
		}
		v := binary.BigEndian.Uint64(ext[:])
		if v > 1<<62 {
			return nil, errs.New(errs.KindWebSocket, "read frame", "payload length overflow")
		}
		length = int64(v)
	}

	if isControl(f.opcode) {
		if !f.fin {
			return nil, errs.New(errs.KindWebSocket, "read frame", "fragmented control frame")
		}
		if length > 125 {
			return nil, errs.New(errs.KindWebSocket, "read frame", "control frame payload exceeds 125 bytes")
		}
	}
	if maxFrameSize > 0 && length > maxFrameSize {
		return nil, &frameTooLarge{size: length, limit: maxFrameSize}
	}

	f.payload = make([]byte, length)
	if _, err := io.ReadFull(br, f.payload); err != nil {
		return nil, err
	}
	return f, nil
}

// frameTooLarge triggers the 1009 close handshake before surfacing as a
// websocket error.
type frameTooLarge struct {
	size, limit int64
}

func (e *frameTooLarge) Error() string {
	return errs.New(errs.KindWebSocket, "read frame", "frame of %d bytes exceeds limit %d", e.size, e.limit).Error()
}

// writeFrame emits one frame. Client frames are always masked with a
// fresh random key; payload is not modified in place.
func writeFrame(w io.Writer, fin bool, opcode byte, payload []byte) error {
	b0 := opcode & 0x0F
	if fin {
		b0 |= 0x80
	}

	head := make([]byte, 0, 14)
	head = append(head, b0)
	switch {
	case len(payload) <= 125:
		head = append(head, 0x80|byte(len(payload)))
	case len(payload) <= 0xFFFF:
		head = append(head, 0x80|126, 0, 0)
		binary.BigEndian.PutUint16(head[2:4], uint16(len(payload)))
	default:
		head = append(head, 0x80|127, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(head[2:10], uint64(len(payload)))
	}

	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return errs.Wrap(errs.KindWebSocket, "write frame", err)
	}
	head = append(head, key[:]...)

	masked := make([]byte, len(payload))
	copy(masked, payload)
	applyMask(masked, key[:])

	if _, err := w.Write(head); err != nil {
		return err
	}
	if len(masked) > 0 {
		if _, err := w.Write(masked); err != nil {
			return err
		}
	}
	return nil
}

// closePayload encodes a close frame body: 2-byte code plus reason.
func closePayload(code int, reason string) []byte {
	if code == 0 {
		return nil
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, uint16(code))
	copy(p[2:], reason)
	return p
}

// parseClosePayload decodes a received close body.
func parseClosePayload(p []byte) (code int, reason string) {
	if len(p) < 2 {
		return CloseNormal, ""
	}
	return int(binary.BigEndian.Uint16(p[:2])), string(p[2:])
}
