// Package input carries input events to windows over named, bounded,
// non-blocking message queues backed by unix datagram sockets.
package input

import (
	"encoding/binary"
	"fmt"
)

// Message types.
const (
	TypePointer uint32 = iota + 1
	TypeKey
)

// Message states.
const (
	StateReleased uint32 = iota
	StatePressed
)

// MessageSize is the fixed wire size of one input message.
const MessageSize = 32

// Message is one input event. Pointer events carry X/Y; key events carry
// Code.
type Message struct {
	Type      uint32
	State     uint32
	X         int32
	Y         int32
	Code      uint32
	Timestamp uint64
}

// Marshal renders the fixed-size wire form.
func (m *Message) Marshal() []byte {
	buf := make([]byte, MessageSize)
	binary.LittleEndian.PutUint32(buf[0:], m.Type)
	binary.LittleEndian.PutUint32(buf[4:], m.State)
	binary.LittleEndian.PutUint32(buf[8:], uint32(m.X))
	binary.LittleEndian.PutUint32(buf[12:], uint32(m.Y))
	binary.LittleEndian.PutUint32(buf[16:], m.Code)
	binary.LittleEndian.PutUint64(buf[20:], m.Timestamp)
	return buf
}

// Unmarshal parses the fixed-size wire form.
func (m *Message) Unmarshal(buf []byte) error {
	if len(buf) != MessageSize {
		return fmt.Errorf("input message is %d bytes, want %d", len(buf), MessageSize)
	}
	m.Type = binary.LittleEndian.Uint32(buf[0:])
	m.State = binary.LittleEndian.Uint32(buf[4:])
	m.X = int32(binary.LittleEndian.Uint32(buf[8:]))
	m.Y = int32(binary.LittleEndian.Uint32(buf[12:]))
	m.Code = binary.LittleEndian.Uint32(buf[16:])
	m.Timestamp = binary.LittleEndian.Uint64(buf[20:])
	return nil
}
