package secure

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// recordHeaderSize - content type, version, epoch, sequence number, length
const recordHeaderSize = 13

// recordConn - net.PacketConn over stream, one DTLS record per ReadFrom
type recordConn struct {
	conn net.Conn
	rd   *bufio.Reader
	mu   sync.Mutex
}

func newRecordConn(conn net.Conn) *recordConn {
	return &recordConn{conn: conn, rd: bufio.NewReader(conn)}
}

func (c *recordConn) ReadFrom(p []byte) (int, net.Addr, error) {
	hdr, err := c.rd.Peek(recordHeaderSize)
	if err != nil {
		return 0, nil, err
	}

	size := recordHeaderSize + int(binary.BigEndian.Uint16(hdr[11:]))
	if size > len(p) {
		return 0, nil, io.ErrShortBuffer
	}

	if _, err = io.ReadFull(c.rd, p[:size]); err != nil {
		return 0, nil, err
	}
	return size, c.conn.RemoteAddr(), nil
}

func (c *recordConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(p)
}

func (c *recordConn) Close() error                       { return c.conn.Close() }
func (c *recordConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *recordConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *recordConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *recordConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
