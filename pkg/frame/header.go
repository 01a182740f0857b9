package frame

import (
	"encoding/binary"
	"strconv"
)

// HeaderSize - type(4) + length(4), little endian on all platforms
const HeaderSize = 8

// MaxPayload - any declared length above it is a broken or hostile peer
const MaxPayload = 64 * 1024

type Type uint32

// numbers are part of the wire format, never renumber
const (
	TypeError Type = iota
	TypeCommand
	TypeControllerInfo
	TypePickController
	TypePing
	TypePong
	TypeCemuhookControllerData
)

func (t Type) String() string {
	switch t {
	case TypeError:
		return "error"
	case TypeCommand:
		return "command"
	case TypeControllerInfo:
		return "controller-info"
	case TypePickController:
		return "pick-controller"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeCemuhookControllerData:
		return "cemuhook-controller-data"
	}
	return "type(" + strconv.FormatUint(uint64(t), 10) + ")"
}

type Header struct {
	Type   Type
	Length uint32
}

func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// Put writes header to the first HeaderSize bytes of b
func (h Header) Put(b []byte) {
	binary.LittleEndian.PutUint32(b, uint32(h.Type))
	binary.LittleEndian.PutUint32(b[4:], h.Length)
}

// ParseHeader - b must have at least HeaderSize bytes
func ParseHeader(b []byte) Header {
	return Header{
		Type:   Type(binary.LittleEndian.Uint32(b)),
		Length: binary.LittleEndian.Uint32(b[4:]),
	}
}
