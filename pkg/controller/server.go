package controller

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/secure"
)

const DefaultHandshakeTimeout = 10 * time.Second

// Server accepts secured connections and runs one session per connection
type Server struct {
	Registry *Registry
	Sink     Sink
	Data     ControllerDataSink
	Secure   secure.Config

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	QueueSize        int

	OnConn  func(c *Conn)
	OnClose func(c *Conn, err error)
	// OnError - handshake failures (c == nil) and session non fatal errors
	OnError func(c *Conn, err error)

	ln     net.Listener
	conns  map[*Conn]struct{}
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

func NewServer(registry *Registry, cfg secure.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Registry:         registry,
		Secure:           cfg,
		HandshakeTimeout: DefaultHandshakeTimeout,
		conns:            map[*Conn]struct{}{},
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Serve runs accept loop until listener is closed
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return err
		}

		go s.handle(conn)
	}
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handle(raw net.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, s.HandshakeTimeout)
	conn, err := secure.Server(ctx, raw, s.Secure)
	cancel()

	if err != nil {
		s.report(nil, &net.OpError{Op: "handshake", Net: "tcp", Addr: raw.RemoteAddr(), Err: err})
		return
	}

	c := NewConn(conn, s.Registry, s.QueueSize)
	c.Sink = s.Sink
	c.Data = s.Data
	c.ReadTimeout = s.ReadTimeout
	c.WriteTimeout = s.WriteTimeout
	c.OnError = func(err error) {
		s.report(c, err)
	}

	if !s.track(c) {
		_ = c.Close()
		return
	}

	if s.OnConn != nil {
		s.OnConn(c)
	}

	err = c.Serve()
	s.untrack(c)

	if s.OnClose != nil {
		s.OnClose(c, err)
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Conns returns live sessions
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Close stops listener and every live session
func (s *Server) Close() error {
	s.mu.Lock()
	s.cancel()
	ln := s.ln
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		errs = append(errs, ln.Close())
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return errors.Join(errs...)
}

func (s *Server) report(c *Conn, err error) {
	if s.OnError != nil {
		s.OnError(c, err)
	}
}
