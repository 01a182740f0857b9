package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/dsu"
	"github.com/apexskier/dolphin-controller-sub000/pkg/frame"
)

type ClientState int32

const (
	ClientIdle ClientState = iota
	ClientConnecting
	ClientReady
	ClientFailed
	ClientCancelled
	// ClientDisconnected - gave up after too many failures
	ClientDisconnected
)

func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientConnecting:
		return "connecting"
	case ClientReady:
		return "ready"
	case ClientFailed:
		return "failed"
	case ClientCancelled:
		return "cancelled"
	case ClientDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var ErrNotReady = errors.New("controller: client not ready")

type Event interface {
	isEvent()
}

type StateEvent struct {
	State ClientState
	Err   error
}

type InfoEvent struct {
	Info frame.ControllerInfo
}

// RTTEvent - Known is false for pong with foreign nonce
type RTTEvent struct {
	RTT   time.Duration
	Known bool
}

// ErrorEvent - error text from server or local non fatal problem
type ErrorEvent struct {
	Text string
}

func (StateEvent) isEvent() {}
func (InfoEvent) isEvent()  {}
func (RTTEvent) isEvent()   {}
func (ErrorEvent) isEvent() {}

// EndpointStore keeps last connected server
type EndpointStore interface {
	SaveEndpoint(endpoint Endpoint) error
}

type EndpointStoreFunc func(endpoint Endpoint) error

func (f EndpointStoreFunc) SaveEndpoint(endpoint Endpoint) error {
	return f(endpoint)
}

const eventsSize = 64

// Client - device side session with reconnect policy
type Client struct {
	Dialer       Dialer
	Store        EndpointStore
	Retry        *Retry
	PingInterval time.Duration
	QueueSize    int

	endpoint Endpoint
	events   chan Event
	pinger   *Pinger

	state   ClientState
	sess    *clientSession
	slot    uint8
	hasSlot bool

	running bool
	closed  bool
	abort   context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewClient(endpoint Endpoint, dialer Dialer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		Dialer:       dialer,
		Retry:        NewRetry(),
		PingInterval: DefaultPingInterval,
		QueueSize:    DefaultQueueSize,
		endpoint:     endpoint,
		events:       make(chan Event, eventsSize),
		pinger:       NewPinger(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Events - state changes, controller info, RTT and errors.
// Events are dropped when nobody reads them. Closed after Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Slot - last assignment reported by server
func (c *Client) Slot() (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot, c.hasSlot
}

// Start connects in background, does nothing if already running
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.start()
}

// Reconnect drops current connection and connects again
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.Retry.Reconnect(time.Now())

	if c.running {
		if c.abort != nil {
			c.abort()
		}
		return
	}
	c.start()
}

// Connect switches to new endpoint
func (c *Client) Connect(endpoint Endpoint) {
	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()

	c.Reconnect()
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.setState(ClientCancelled, nil)
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
	return nil
}

// Send - command line to server, silently dropped unless ready
func (c *Client) Send(line string) {
	_ = c.send(&frame.Command{Line: line})
}

// SendControllerData - motion report, silently dropped unless ready
func (c *Client) SendControllerData(data *dsu.ControllerData) {
	_ = c.send(&frame.CemuhookControllerData{Data: data.Marshal()})
}

func (c *Client) Pick(slot uint8) error {
	return c.send(&frame.PickController{Slot: slot})
}

func (c *Client) send(msg frame.Message) error {
	c.mu.Lock()
	sess := c.sess
	ready := c.state == ClientReady
	c.mu.Unlock()

	if !ready || sess == nil {
		return ErrNotReady
	}
	if !sess.send(msg) {
		return ErrSlowConsumer
	}
	return nil
}

func (c *Client) start() {
	if c.closed || c.running {
		return
	}
	c.running = true
	c.wg.Add(1)
	go c.loop()
}

func (c *Client) loop() {
	defer c.wg.Done()

	for {
		state, err := c.attempt()

		c.mu.Lock()
		if c.closed {
			c.running = false
			c.mu.Unlock()
			return
		}

		c.setState(state, err)

		var retry bool
		switch state {
		case ClientFailed:
			if retry = c.Retry.Failed(); !retry {
				c.setState(ClientDisconnected, err)
			}
		case ClientCancelled:
			retry = c.Retry.Cancelled(time.Now())
		}

		if !retry {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Client) attempt() (ClientState, error) {
	c.mu.Lock()
	ctx, cancel := context.WithCancel(c.ctx)
	c.abort = cancel
	endpoint := c.endpoint
	c.setState(ClientConnecting, nil)
	c.mu.Unlock()

	defer cancel()

	conn, err := c.Dialer.Dial(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return ClientCancelled, nil
		}
		return ClientFailed, err
	}

	// unblock read on cancel
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	sess := newClientSession(conn, c.QueueSize)
	defer sess.close()

	c.pinger.Reset()

	c.mu.Lock()
	c.Retry.Success()
	c.sess = sess
	c.setState(ClientReady, nil)
	slot, hasSlot := c.slot, c.hasSlot
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
	}()

	if c.Store != nil {
		if err = c.Store.SaveEndpoint(endpoint); err != nil {
			c.emit(ErrorEvent{Text: "save endpoint: " + err.Error()})
		}
	}

	go sess.writer()

	// server treats it as any other pick
	if hasSlot {
		sess.send(&frame.PickController{Slot: slot})
	}

	go c.keepalive(sess)

	err = c.receive(sess)

	switch {
	case ctx.Err() != nil:
		return ClientCancelled, nil
	case errors.Is(err, io.EOF):
		// remote graceful close
		return ClientCancelled, err
	}
	return ClientFailed, err
}

func (c *Client) keepalive(sess *clientSession) {
	ticker := time.NewTicker(c.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			msg, err := c.pinger.Ping()
			if err != nil {
				c.emit(ErrorEvent{Text: "ping: " + err.Error()})
				continue
			}
			sess.send(msg)
		case <-sess.done:
			return
		}
	}
}

func (c *Client) pingInterval() time.Duration {
	if c.PingInterval <= 0 {
		return DefaultPingInterval
	}
	return c.PingInterval
}

func (c *Client) receive(sess *clientSession) error {
	for {
		msg, err := sess.rd.ReadMessage()
		if err != nil {
			return err
		}

		switch msg := msg.(type) {
		case *frame.ControllerInfo:
			c.mu.Lock()
			c.slot, c.hasSlot = msg.Slot()
			c.mu.Unlock()
			c.emit(InfoEvent{Info: *msg})

		case *frame.Pong:
			rtt, ok := c.pinger.Pong(msg)
			c.emit(RTTEvent{RTT: rtt, Known: ok})

		case *frame.Ping:
			sess.send(&frame.Pong{Nonce: msg.Nonce})

		case *frame.Error:
			c.emit(ErrorEvent{Text: msg.Text})

		default:
			return fmt.Errorf("%w: unexpected %s", ErrProtocol, msg.Type())
		}
	}
}

// setState must be called with mutex held
func (c *Client) setState(state ClientState, err error) {
	c.state = state
	c.emitLocked(StateEvent{State: state, Err: err})
}

func (c *Client) emit(event Event) {
	c.mu.Lock()
	c.emitLocked(event)
	c.mu.Unlock()
}

func (c *Client) emitLocked(event Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}

type clientSession struct {
	conn  net.Conn
	rd    *frame.Reader
	wr    *frame.Writer
	queue chan frame.Message

	done      chan struct{}
	closeOnce sync.Once
}

func newClientSession(conn net.Conn, queueSize int) *clientSession {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &clientSession{
		conn:  conn,
		rd:    frame.NewReader(conn),
		wr:    frame.NewWriter(conn),
		queue: make(chan frame.Message, queueSize),
		done:  make(chan struct{}),
	}
}

// send never blocks, message is dropped when queue is full
func (s *clientSession) send(msg frame.Message) bool {
	select {
	case s.queue <- msg:
		return true
	default:
		return false
	}
}

func (s *clientSession) writer() {
	for {
		select {
		case msg := <-s.queue:
			if err := s.wr.WriteMessage(msg); err != nil {
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *clientSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
