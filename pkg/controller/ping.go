package controller

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/frame"
)

const DefaultPingInterval = 2 * time.Second

type PingRecord struct {
	Nonce  frame.Nonce
	SentAt time.Time
}

// Pinger keeps single outstanding ping and matches pongs to it
type Pinger struct {
	now     func() time.Time
	pending *PingRecord
	mu      sync.Mutex
}

func NewPinger() *Pinger {
	return &Pinger{now: time.Now}
}

// Ping returns new ping with random nonce, previous unanswered ping is forgotten
func (p *Pinger) Ping() (*frame.Ping, error) {
	msg := &frame.Ping{}
	if _, err := rand.Read(msg.Nonce[:]); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.pending = &PingRecord{Nonce: msg.Nonce, SentAt: p.now()}
	p.mu.Unlock()

	return msg, nil
}

// Pong returns round trip time. Mismatched pong returns false and keeps pending ping.
func (p *Pinger) Pong(msg *frame.Pong) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil || p.pending.Nonce != msg.Nonce {
		return 0, false
	}

	rtt := p.now().Sub(p.pending.SentAt)
	p.pending = nil
	return rtt, true
}

func (p *Pinger) Pending() (PingRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return PingRecord{}, false
	}
	return *p.pending, true
}

func (p *Pinger) Reset() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}
