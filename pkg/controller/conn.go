package controller

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/dsu"
	"github.com/apexskier/dolphin-controller-sub000/pkg/frame"
	"github.com/google/uuid"
)

type State int32

const (
	StateConnecting State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const DefaultQueueSize = 16

var (
	ErrProtocol     = errors.New("controller: protocol violation")
	ErrSlowConsumer = errors.New("controller: outbound queue full")
	ErrNoController = errors.New("no controller assigned")
)

// ControllerDataSink - receiver of motion reports, usually DSU server
type ControllerDataSink interface {
	Publish(slot uint8, data *dsu.ControllerData) error
}

// Conn - server side session of one secured connection
type Conn struct {
	Sink Sink
	Data ControllerDataSink

	// OnError - non fatal problems: client error frames, sink failures
	OnError func(err error)

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	id       string
	conn     net.Conn
	registry *Registry
	rd       *frame.Reader
	wr       *frame.Writer
	queue    chan frame.Message
	state    atomic.Int32

	last   *dsu.ControllerData
	lastMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(conn net.Conn, registry *Registry, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Conn{
		id:       uuid.NewString(),
		conn:     conn,
		registry: registry,
		rd:       frame.NewReader(conn),
		wr:       frame.NewWriter(conn),
		queue:    make(chan frame.Message, queueSize),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) String() string {
	return c.id + " " + c.conn.RemoteAddr().String()
}

// Send puts message to outbound queue without waiting for network.
// Full queue closes connection, so registry never waits for a slow peer.
func (c *Conn) Send(msg frame.Message) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	select {
	case c.queue <- msg:
		return nil
	default:
		// can't call Close here, registry lock may be held by caller
		_ = c.conn.Close()
		return ErrSlowConsumer
	}
}

// Serve registers session in registry and handles messages until error or Close.
// Returns nil on Close.
func (c *Conn) Serve() error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		return net.ErrClosed
	}

	go c.writer()

	c.registry.Add(c)
	defer c.Close()

	select {
	case <-c.done:
		// closed before registration, release is idempotent
		c.registry.Release(c)
		return nil
	default:
	}

	for {
		if c.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		}

		msg, err := c.rd.ReadMessage()
		if err == nil {
			err = c.handle(msg)
		}
		if err != nil {
			if c.State() == StateClosed {
				return nil
			}
			return err
		}
	}
}

// Close is idempotent and unblocks pending read
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		err = c.conn.Close()
		c.registry.Release(c)
	})
	return err
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// LastData returns last controller data received from this session
func (c *Conn) LastData() (dsu.ControllerData, bool) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()

	if c.last == nil {
		return dsu.ControllerData{}, false
	}
	return *c.last, true
}

func (c *Conn) handle(msg frame.Message) error {
	switch msg := msg.(type) {
	case *frame.Command:
		slot, ok := c.registry.Slot(c)
		if !ok {
			return c.Send(&frame.Error{Text: ErrNoController.Error()})
		}
		if c.Sink == nil {
			return nil
		}
		if err := c.Sink.WriteCommand(slot, msg.Line); err != nil {
			c.report(fmt.Errorf("controller: slot %d sink: %w", slot, err))
			return c.Send(&frame.Error{Text: err.Error()})
		}
		return nil

	case *frame.PickController:
		if err := c.registry.Pick(c, msg.Slot); err != nil {
			return c.Send(&frame.Error{Text: err.Error()})
		}
		return nil

	case *frame.Ping:
		return c.Send(&frame.Pong{Nonce: msg.Nonce})

	case *frame.CemuhookControllerData:
		data, err := dsu.UnmarshalControllerData(msg.Data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}

		slot, ok := c.registry.Slot(c)
		if !ok {
			return nil
		}

		c.lastMu.Lock()
		c.last = data
		c.lastMu.Unlock()

		if c.Data != nil {
			if err = c.Data.Publish(slot, data); err != nil {
				c.report(fmt.Errorf("controller: slot %d publish: %w", slot, err))
			}
		}
		return nil

	case *frame.Error:
		// client errors and unknown message types
		c.report(fmt.Errorf("controller: client error: %s", msg.Text))
		return nil

	case *frame.ControllerInfo, *frame.Pong:
		// server never sends ping or asks for info
		return fmt.Errorf("%w: unexpected %s", ErrProtocol, msg.Type())
	}

	return fmt.Errorf("%w: unexpected %T", ErrProtocol, msg)
}

func (c *Conn) writer() {
	for {
		select {
		case msg := <-c.queue:
			if c.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
			}
			if err := c.wr.WriteMessage(msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) report(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
