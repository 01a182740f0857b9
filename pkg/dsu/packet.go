package dsu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// https://v1993.github.io/cemuhook-protocol/

const (
	MagicServer = "DSUS" // server → client
	MagicClient = "DSUC" // client → server

	ProtocolVersion uint16 = 1001

	HeaderSize  = 16
	DefaultPort = 26760
)

type EventType uint32

const (
	EventVersion        EventType = 0x100000
	EventControllerInfo EventType = 0x100001
	EventControllerData EventType = 0x100002
)

func (e EventType) String() string {
	switch e {
	case EventVersion:
		return "version"
	case EventControllerInfo:
		return "connected-controller-info"
	case EventControllerData:
		return "controller-data"
	}
	return fmt.Sprintf("event(0x%06x)", uint32(e))
}

type Origin byte

const (
	OriginServer Origin = iota + 1
	OriginClient
)

func (o Origin) Magic() string {
	if o == OriginServer {
		return MagicServer
	}
	return MagicClient
}

var (
	ErrMagic       = errors.New("dsu: wrong magic")
	ErrChecksum    = errors.New("dsu: checksum mismatch")
	ErrUnsupported = errors.New("dsu: unsupported")
	ErrMalformed   = errors.New("dsu: malformed payload")
)

type Header struct {
	Origin   Origin
	Version  uint16
	Length   uint16
	CRC      uint32
	SenderID uint32
}

// Payload - one of request/response structs of this package
type Payload interface {
	Event() EventType
	Size() int
	Put(b []byte)
}

type Packet struct {
	Header
	Event   EventType
	Payload Payload
}

// Encode returns header || event type || payload with CRC patched in.
// Length field keeps legacy extra byte: 1 + len(event type) + len(payload).
func Encode(origin Origin, senderID uint32, p Payload) []byte {
	size := p.Size()

	b := make([]byte, HeaderSize+4+size)
	copy(b, origin.Magic())
	binary.LittleEndian.PutUint16(b[4:], ProtocolVersion)
	binary.LittleEndian.PutUint16(b[6:], uint16(1+4+size))
	// b[8:12] crc stays zero until the whole packet is ready
	binary.LittleEndian.PutUint32(b[12:], senderID)
	binary.LittleEndian.PutUint32(b[16:], uint32(p.Event()))
	p.Put(b[20:])

	binary.LittleEndian.PutUint32(b[8:], Checksum(b))
	return b
}

type Decoder struct {
	// SkipCRC - trust checksum field without verification
	SkipCRC bool
}

// Decode parses one packet from the beginning of b.
// Returns n == 0 and nil error when b is too short for the declared length.
func Decode(b []byte) (*Packet, int, error) {
	return Decoder{}.Decode(b)
}

func (d Decoder) Decode(b []byte) (*Packet, int, error) {
	if len(b) < HeaderSize {
		return nil, 0, nil
	}

	pkt := &Packet{}

	switch string(b[:4]) {
	case MagicServer:
		pkt.Origin = OriginServer
	case MagicClient:
		pkt.Origin = OriginClient
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrMagic, b[:4])
	}

	pkt.Version = binary.LittleEndian.Uint16(b[4:])
	pkt.Length = binary.LittleEndian.Uint16(b[6:])
	pkt.CRC = binary.LittleEndian.Uint32(b[8:])
	pkt.SenderID = binary.LittleEndian.Uint32(b[12:])

	// accept both legacy (1 + type + payload) and plain (type + payload) lengths
	need := HeaderSize + int(pkt.Length) - 1
	if need < HeaderSize+4 {
		need = HeaderSize + 4
	}
	if len(b) < need {
		return nil, 0, nil
	}

	pkt.Event = EventType(binary.LittleEndian.Uint32(b[16:]))

	payload, err := newPayload(pkt.Origin, pkt.Event)
	if err != nil {
		return nil, need, err
	}

	n := HeaderSize + 4 + payload.Size()
	if len(b) < n {
		return nil, 0, nil
	}

	if !d.SkipCRC {
		if crc := checksumZeroed(b[:n]); crc != pkt.CRC {
			return nil, n, fmt.Errorf("%w: 0x%08x != 0x%08x", ErrChecksum, pkt.CRC, crc)
		}
	}

	if err = unmarshal(payload, b[20:n]); err != nil {
		return nil, n, err
	}

	pkt.Payload = payload
	return pkt, n, nil
}

func checksumZeroed(b []byte) uint32 {
	tmp := make([]byte, len(b))
	copy(tmp, b)
	tmp[8], tmp[9], tmp[10], tmp[11] = 0, 0, 0, 0
	return Checksum(tmp)
}

func newPayload(origin Origin, event EventType) (Payload, error) {
	switch origin {
	case OriginClient:
		switch event {
		case EventVersion:
			return &VersionRequest{}, nil
		case EventControllerInfo:
			return &InfoRequest{}, nil
		case EventControllerData:
			return &DataRequest{}, nil
		}
	case OriginServer:
		switch event {
		case EventVersion:
			return &VersionResponse{}, nil
		case EventControllerInfo:
			return &InfoResponse{}, nil
		case EventControllerData:
			return &ControllerData{}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s from %s", ErrUnsupported, event, origin.Magic())
}

type unmarshaler interface {
	unmarshal(b []byte) error
}

func unmarshal(p Payload, b []byte) error {
	if len(b) != p.Size() {
		return fmt.Errorf("%w: %s size %d", ErrMalformed, p.Event(), len(b))
	}
	return p.(unmarshaler).unmarshal(b)
}
