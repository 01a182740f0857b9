package dsu

import (
	"encoding/binary"
	"fmt"
	"math"
)

type VersionRequest struct{}

func (p *VersionRequest) Event() EventType         { return EventVersion }
func (p *VersionRequest) Size() int                { return 0 }
func (p *VersionRequest) Put([]byte)               {}
func (p *VersionRequest) unmarshal(b []byte) error { return nil }

type VersionResponse struct {
	Version uint16
}

func (p *VersionResponse) Event() EventType { return EventVersion }
func (p *VersionResponse) Size() int        { return 2 }

func (p *VersionResponse) Put(b []byte) {
	binary.LittleEndian.PutUint16(b, p.Version)
}

func (p *VersionResponse) unmarshal(b []byte) error {
	p.Version = binary.LittleEndian.Uint16(b)
	return nil
}

// MaxInfoSlots - info request can't ask more than 4 slots
const MaxInfoSlots = 4

// InfoRequest - int32 amount of slots + up to 4 slot numbers
type InfoRequest struct {
	Slots []uint8
}

func (p *InfoRequest) Event() EventType { return EventControllerInfo }
func (p *InfoRequest) Size() int        { return 4 + MaxInfoSlots }

func (p *InfoRequest) Put(b []byte) {
	n := len(p.Slots)
	if n > MaxInfoSlots {
		n = MaxInfoSlots
	}
	binary.LittleEndian.PutUint32(b, uint32(n))
	copy(b[4:4+n], p.Slots)
}

func (p *InfoRequest) unmarshal(b []byte) error {
	n := int32(binary.LittleEndian.Uint32(b))
	if n < 0 || n > MaxInfoSlots {
		return fmt.Errorf("%w: info request for %d slots", ErrMalformed, n)
	}
	p.Slots = append([]uint8(nil), b[4:4+n]...)
	return nil
}

// SharedSize - beginning of info response and controller data
const SharedSize = 11

type Shared struct {
	Slot           uint8
	State          State
	Model          Model
	ConnectionType ConnectionType
	MAC            [6]byte
	Battery        BatteryStatus
}

func (s *Shared) put(b []byte) {
	b[0] = s.Slot
	b[1] = s.State
	b[2] = s.Model
	b[3] = s.ConnectionType
	copy(b[4:10], s.MAC[:])
	b[10] = s.Battery
}

func (s *Shared) unmarshal(b []byte) {
	s.Slot = b[0]
	s.State = b[1]
	s.Model = b[2]
	s.ConnectionType = b[3]
	copy(s.MAC[:], b[4:10])
	s.Battery = b[10]
}

// InfoResponse - shared beginning + zero byte
type InfoResponse struct {
	Shared
}

func (p *InfoResponse) Event() EventType { return EventControllerInfo }
func (p *InfoResponse) Size() int        { return SharedSize + 1 }

func (p *InfoResponse) Put(b []byte) {
	p.Shared.put(b)
	b[SharedSize] = 0
}

func (p *InfoResponse) unmarshal(b []byte) error {
	p.Shared.unmarshal(b)
	return nil
}

// DataRequest - subscription for controller data.
// Flags: 0 - all slots, 1 - by slot, 2 - by MAC.
type DataRequest struct {
	Flags uint8
	Slot  uint8
	MAC   [6]byte
}

func (p *DataRequest) Event() EventType { return EventControllerData }
func (p *DataRequest) Size() int        { return 8 }

func (p *DataRequest) Put(b []byte) {
	b[0] = p.Flags
	b[1] = p.Slot
	copy(b[2:8], p.MAC[:])
}

func (p *DataRequest) unmarshal(b []byte) error {
	p.Flags = b[0]
	p.Slot = b[1]
	copy(p.MAC[:], b[2:8])
	return nil
}

const ControllerDataSize = 80

type Touch struct {
	Active bool
	ID     uint8
	X, Y   uint16
}

// ControllerData - input and motion report (server → client)
type ControllerData struct {
	Shared

	Connected    bool
	PacketNumber uint32

	Buttons1    uint8 // D-Pad Left, D-Pad Down, D-Pad Right, D-Pad Up, Options, R3, L3, Share
	Buttons2    uint8 // Y, B, A, X, R1, L1, R2, L2
	Home        bool
	TouchButton bool

	LeftX, LeftY   uint8
	RightX, RightY uint8

	// D-Pad Left, Down, Right, Up, Y, B, A, X, R1, L1, R2, L2
	Analog [12]uint8

	Touch [2]Touch

	MotionTimestamp uint64 // microseconds
	Accel           [3]float32
	Gyro            [3]float32 // pitch, yaw, roll
}

func (p *ControllerData) Event() EventType { return EventControllerData }
func (p *ControllerData) Size() int        { return ControllerDataSize }

func (p *ControllerData) Put(b []byte) {
	p.Shared.put(b)
	b[11] = boolByte(p.Connected)
	binary.LittleEndian.PutUint32(b[12:], p.PacketNumber)
	b[16] = p.Buttons1
	b[17] = p.Buttons2
	b[18] = boolByte(p.Home)
	b[19] = boolByte(p.TouchButton)
	b[20] = p.LeftX
	b[21] = p.LeftY
	b[22] = p.RightX
	b[23] = p.RightY
	copy(b[24:36], p.Analog[:])

	for i, t := range p.Touch {
		o := 36 + i*6
		b[o] = boolByte(t.Active)
		b[o+1] = t.ID
		binary.LittleEndian.PutUint16(b[o+2:], t.X)
		binary.LittleEndian.PutUint16(b[o+4:], t.Y)
	}

	binary.LittleEndian.PutUint64(b[48:], p.MotionTimestamp)

	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(b[56+i*4:], math.Float32bits(p.Accel[i]))
		binary.LittleEndian.PutUint32(b[68+i*4:], math.Float32bits(p.Gyro[i]))
	}
}

func (p *ControllerData) unmarshal(b []byte) error {
	p.Shared.unmarshal(b)
	p.Connected = b[11] != 0
	p.PacketNumber = binary.LittleEndian.Uint32(b[12:])
	p.Buttons1 = b[16]
	p.Buttons2 = b[17]
	p.Home = b[18] != 0
	p.TouchButton = b[19] != 0
	p.LeftX = b[20]
	p.LeftY = b[21]
	p.RightX = b[22]
	p.RightY = b[23]
	copy(p.Analog[:], b[24:36])

	for i := range p.Touch {
		o := 36 + i*6
		p.Touch[i] = Touch{
			Active: b[o] != 0,
			ID:     b[o+1],
			X:      binary.LittleEndian.Uint16(b[o+2:]),
			Y:      binary.LittleEndian.Uint16(b[o+4:]),
		}
	}

	p.MotionTimestamp = binary.LittleEndian.Uint64(b[48:])

	for i := 0; i < 3; i++ {
		p.Accel[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[56+i*4:]))
		p.Gyro[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[68+i*4:]))
	}
	return nil
}

// Marshal - raw payload, as carried by cemuhook-controller-data frames
func (p *ControllerData) Marshal() []byte {
	b := make([]byte, ControllerDataSize)
	p.Put(b)
	return b
}

func UnmarshalControllerData(b []byte) (*ControllerData, error) {
	p := &ControllerData{}
	if err := unmarshal(p, b); err != nil {
		return nil, err
	}
	return p, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
