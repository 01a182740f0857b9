package dsu

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

// SlotSource - read-only view of controller slots
type SlotSource interface {
	Connected(slot uint8) bool
}

// DefaultTTL - clients renew subscriptions about every second
const DefaultTTL = 5 * time.Second

type Server struct {
	Slots    SlotSource
	NumSlots uint8
	TTL      time.Duration
	Decoder  Decoder

	// OnError - bad or unsupported datagram, server keeps running
	OnError func(addr net.Addr, err error)

	id   uint32
	conn net.PacketConn
	subs map[string]*subscriber
	last map[uint8]*ControllerData
	mu   sync.Mutex
}

type subscriber struct {
	addr    net.Addr
	expires map[uint8]time.Time
	packet  uint32
}

func NewServer(slots SlotSource, numSlots uint8) *Server {
	return &Server{
		Slots:    slots,
		NumSlots: numSlots,
		TTL:      DefaultTTL,
		id:       rand.Uint32(),
		subs:     map[string]*subscriber{},
		last:     map[uint8]*ControllerData{},
	}
}

func (s *Server) ID() uint32 {
	return s.id
}

func (s *Server) Serve(conn net.PacketConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	b := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFrom(b)
		if err != nil {
			return err
		}

		if err = s.handle(b[:n], addr); err != nil && s.OnError != nil {
			s.OnError(addr, err)
		}
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Server) handle(b []byte, addr net.Addr) error {
	pkt, n, err := s.Decoder.Decode(b)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: short datagram %d bytes", ErrMalformed, len(b))
	}
	if pkt.Origin != OriginClient {
		return fmt.Errorf("%w: %s packet from server", ErrUnsupported, pkt.Event)
	}

	switch p := pkt.Payload.(type) {
	case *VersionRequest:
		return s.send(addr, &VersionResponse{Version: ProtocolVersion})

	case *InfoRequest:
		for _, slot := range p.Slots {
			if err = s.send(addr, s.info(slot)); err != nil {
				return err
			}
		}
		return nil

	case *DataRequest:
		return s.subscribe(addr, p)
	}

	return fmt.Errorf("%w: %s", ErrUnsupported, pkt.Event)
}

func (s *Server) info(slot uint8) *InfoResponse {
	res := &InfoResponse{Shared: Shared{Slot: slot}}
	if slot < s.NumSlots && s.Slots.Connected(slot) {
		res.Shared = connectedShared(slot)
	}
	return res
}

func connectedShared(slot uint8) Shared {
	return Shared{
		Slot:           slot,
		State:          StateConnected,
		Model:          ModelFullGyro,
		ConnectionType: ConnectionTypeBluetooth,
		Battery:        BatteryStatusFull,
	}
}

func (s *Server) subscribe(addr net.Addr, req *DataRequest) error {
	var slots []uint8

	switch {
	case req.Flags == RegisterAll:
		for slot := uint8(0); slot < s.NumSlots; slot++ {
			slots = append(slots, slot)
		}
	case req.Flags&RegisterSlot != 0:
		if req.Slot >= s.NumSlots {
			return fmt.Errorf("%w: subscription for slot %d", ErrMalformed, req.Slot)
		}
		slots = append(slots, req.Slot)
	default:
		// TODO: subscription by MAC needs real controller MACs, all of them are zero now
		return fmt.Errorf("%w: subscription by MAC", ErrUnsupported)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	sub := s.subs[key]
	if sub == nil {
		sub = &subscriber{addr: addr, expires: map[uint8]time.Time{}}
		s.subs[key] = sub
	}

	expires := time.Now().Add(s.TTL)

	var errs []error
	for _, slot := range slots {
		_, renew := sub.expires[slot]
		sub.expires[slot] = expires

		// new subscriber gets last known state without waiting for next report
		if data := s.last[slot]; data != nil && !renew {
			errs = append(errs, s.sendData(sub, data))
		}
	}
	return errors.Join(errs...)
}

// Publish sends controller data to all live subscribers of the slot
// and keeps it as last known state
func (s *Server) Publish(slot uint8, data *ControllerData) error {
	d := *data
	d.Shared = connectedShared(slot)
	d.Connected = true

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last[slot] = &d

	return s.broadcast(slot, &d)
}

// Reset forgets last known state and sends final disconnected report
func (s *Server) Reset(slot uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.last[slot]; !ok {
		return nil
	}

	delete(s.last, slot)

	return s.broadcast(slot, &ControllerData{Shared: Shared{Slot: slot}})
}

// Last returns copy of last known state for the slot
func (s *Server) Last(slot uint8) (ControllerData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d := s.last[slot]; d != nil {
		return *d, true
	}
	return ControllerData{}, false
}

func (s *Server) broadcast(slot uint8, data *ControllerData) error {
	if s.conn == nil {
		return nil
	}

	now := time.Now()

	var errs []error
	for key, sub := range s.subs {
		expires, ok := sub.expires[slot]
		if !ok {
			continue
		}
		if now.After(expires) {
			delete(sub.expires, slot)
			if len(sub.expires) == 0 {
				delete(s.subs, key)
			}
			continue
		}
		errs = append(errs, s.sendData(sub, data))
	}
	return errors.Join(errs...)
}

func (s *Server) sendData(sub *subscriber, data *ControllerData) error {
	if s.conn == nil {
		return nil
	}
	sub.packet++

	d := *data
	d.PacketNumber = sub.packet

	_, err := s.conn.WriteTo(Encode(OriginServer, s.id, &d), sub.addr)
	return err
}

func (s *Server) send(addr net.Addr, p Payload) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	_, err := conn.WriteTo(Encode(OriginServer, s.id, p), addr)
	return err
}
