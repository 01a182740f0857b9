package frame

import (
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("frame: malformed message")

// Message is one of Error, Command, ControllerInfo, PickController, Ping, Pong
// or CemuhookControllerData.
type Message interface {
	Type() Type
	Payload() []byte
}

type Nonce [16]byte

type Error struct {
	Text string
}

func (m *Error) Type() Type      { return TypeError }
func (m *Error) Payload() []byte { return []byte(m.Text) }

type Command struct {
	Line string
}

func (m *Command) Type() Type      { return TypeCommand }
func (m *Command) Payload() []byte { return []byte(m.Line) }

// ControllerInfo - personalised availability broadcast.
// Bit i of Available is set when slot i is free.
type ControllerInfo struct {
	Available   uint8
	HasAssigned bool
	Assigned    uint8
}

func (m *ControllerInfo) Type() Type { return TypeControllerInfo }

func (m *ControllerInfo) Payload() []byte {
	b := []byte{m.Available, 0, 0}
	if m.HasAssigned {
		b[1] = 1
		b[2] = m.Assigned
	}
	return b
}

// Slot returns assigned slot if any
func (m *ControllerInfo) Slot() (uint8, bool) {
	return m.Assigned, m.HasAssigned
}

func (m *ControllerInfo) IsAvailable(slot uint8) bool {
	return slot < 8 && m.Available&(1<<slot) != 0
}

type PickController struct {
	Slot uint8
}

func (m *PickController) Type() Type      { return TypePickController }
func (m *PickController) Payload() []byte { return []byte{m.Slot} }

type Ping struct {
	Nonce Nonce
}

func (m *Ping) Type() Type      { return TypePing }
func (m *Ping) Payload() []byte { return append([]byte(nil), m.Nonce[:]...) }

type Pong struct {
	Nonce Nonce
}

func (m *Pong) Type() Type      { return TypePong }
func (m *Pong) Payload() []byte { return append([]byte(nil), m.Nonce[:]...) }

// CemuhookControllerData carries a raw DSU controller data payload
type CemuhookControllerData struct {
	Data []byte
}

func (m *CemuhookControllerData) Type() Type      { return TypeCemuhookControllerData }
func (m *CemuhookControllerData) Payload() []byte { return m.Data }

// Encode returns header || payload
func Encode(m Message) []byte {
	return Append(nil, m)
}

func Append(b []byte, m Message) []byte {
	payload := m.Payload()

	i := len(b)
	b = append(b, make([]byte, HeaderSize)...)
	Header{Type: m.Type(), Length: uint32(len(payload))}.Put(b[i:])

	return append(b, payload...)
}

// Decode builds typed message from payload. Payload bytes are copied.
// Unknown types become *Error so the stream can continue.
func Decode(t Type, payload []byte) (Message, error) {
	switch t {
	case TypeError:
		return &Error{Text: string(payload)}, nil

	case TypeCommand:
		return &Command{Line: string(payload)}, nil

	case TypeControllerInfo:
		if len(payload) != 3 {
			return nil, fmt.Errorf("%w: %s length %d", ErrMalformed, t, len(payload))
		}
		m := &ControllerInfo{Available: payload[0]}
		if payload[1] != 0 {
			m.HasAssigned = true
			m.Assigned = payload[2]
		}
		return m, nil

	case TypePickController:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: %s length %d", ErrMalformed, t, len(payload))
		}
		return &PickController{Slot: payload[0]}, nil

	case TypePing, TypePong:
		var nonce Nonce
		if len(payload) != len(nonce) {
			return nil, fmt.Errorf("%w: %s length %d", ErrMalformed, t, len(payload))
		}
		copy(nonce[:], payload)
		if t == TypePing {
			return &Ping{Nonce: nonce}, nil
		}
		return &Pong{Nonce: nonce}, nil

	case TypeCemuhookControllerData:
		return &CemuhookControllerData{Data: append([]byte(nil), payload...)}, nil
	}

	return &Error{Text: "unknown message " + t.String()}, nil
}
