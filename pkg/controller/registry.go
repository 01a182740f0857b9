package controller

import (
	"errors"
	"fmt"
	"sync"

	"github.com/apexskier/dolphin-controller-sub000/pkg/frame"
)

const DefaultSlots = 4

var (
	ErrSlotTaken   = errors.New("controller: slot taken")
	ErrInvalidSlot = errors.New("controller: invalid slot")
)

// Peer - registry member. Send must not block on network.
type Peer interface {
	ID() string
	Send(msg frame.Message) error
}

type SlotStatus struct {
	Slot    uint8  `json:"slot"`
	Session string `json:"session,omitempty"`
}

type Status struct {
	Available uint8        `json:"available"`
	Sessions  int          `json:"sessions"`
	Slots     []SlotStatus `json:"slots"`
}

// Registry - slot to session mapping, all mutations and broadcasts under one lock
type Registry struct {
	// OnSendError - failed delivery to one peer, others still get info
	OnSendError func(peer Peer, err error)

	slots []Peer
	peers []Peer
	subs  map[chan Status]struct{}
	mu    sync.Mutex
}

func NewRegistry(size uint8) *Registry {
	if size == 0 || size > 8 {
		size = DefaultSlots
	}
	return &Registry{
		slots: make([]Peer, size),
		subs:  map[chan Status]struct{}{},
	}
}

func (r *Registry) Size() uint8 {
	return uint8(len(r.slots))
}

// Add registers peer without slot and sends it current availability
func (r *Registry) Add(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index(peer) >= 0 {
		return
	}
	r.peers = append(r.peers, peer)

	r.send(peer, r.info(peer))
	r.notify()
}

func (r *Registry) Pick(peer Peer, slot uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(slot) >= len(r.slots) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	if r.index(peer) < 0 {
		return fmt.Errorf("controller: unknown session %s", peer.ID())
	}

	if owner := r.slots[slot]; owner != nil && owner != peer {
		return fmt.Errorf("%w: %d", ErrSlotTaken, slot)
	}

	r.free(peer)
	r.slots[slot] = peer

	r.broadcast()
	return nil
}

// Release removes peer and frees its slot. Safe to call many times.
func (r *Registry) Release(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(peer)
	if i < 0 {
		return
	}
	r.peers = append(r.peers[:i], r.peers[i+1:]...)

	if r.free(peer) {
		r.broadcast()
	} else {
		r.notify()
	}
}

// Broadcast sends personal controller info to every peer
func (r *Registry) Broadcast() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcast()
}

func (r *Registry) Slot(peer Peer) (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.slot(peer)
}

// Connected - slot held by some session, used by DSU bridge
func (r *Registry) Connected(slot uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return int(slot) < len(r.slots) && r.slots[slot] != nil
}

func (r *Registry) Available() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.available()
}

func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status()
}

// Subscribe returns channel with status after each change. Slow readers miss
// intermediate states but always get the latest one.
func (r *Registry) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	ch <- r.status()
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) index(peer Peer) int {
	for i, p := range r.peers {
		if p == peer {
			return i
		}
	}
	return -1
}

func (r *Registry) slot(peer Peer) (uint8, bool) {
	for i, p := range r.slots {
		if p == peer {
			return uint8(i), true
		}
	}
	return 0, false
}

func (r *Registry) free(peer Peer) bool {
	if slot, ok := r.slot(peer); ok {
		r.slots[slot] = nil
		return true
	}
	return false
}

func (r *Registry) available() (mask uint8) {
	for i, p := range r.slots {
		if p == nil {
			mask |= 1 << i
		}
	}
	return
}

func (r *Registry) info(peer Peer) *frame.ControllerInfo {
	msg := &frame.ControllerInfo{Available: r.available()}
	msg.Assigned, msg.HasAssigned = r.slot(peer)
	return msg
}

func (r *Registry) broadcast() {
	for _, peer := range r.peers {
		r.send(peer, r.info(peer))
	}
	r.notify()
}

func (r *Registry) send(peer Peer, msg frame.Message) {
	if err := peer.Send(msg); err != nil && r.OnSendError != nil {
		r.OnSendError(peer, err)
	}
}

func (r *Registry) status() Status {
	st := Status{Available: r.available(), Sessions: len(r.peers)}
	for i, p := range r.slots {
		s := SlotStatus{Slot: uint8(i)}
		if p != nil {
			s.Session = p.ID()
		}
		st.Slots = append(st.Slots, s)
	}
	return st
}

func (r *Registry) notify() {
	st := r.status()
	for ch := range r.subs {
		select {
		case <-ch: // drop stale
		default:
		}
		ch <- st
	}
}
