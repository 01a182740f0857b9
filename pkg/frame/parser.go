package frame

import (
	"fmt"
	"io"
	"sync"
)

// Parse reads one message from the beginning of b.
// Returns n == 0 and nil error when b doesn't hold a complete frame yet,
// same contract as bufio.SplitFunc asking for more data.
func Parse(b []byte) (msg Message, n int, err error) {
	if len(b) < HeaderSize {
		return nil, 0, nil
	}

	h := ParseHeader(b)
	if h.Length > MaxPayload {
		return nil, 0, fmt.Errorf("%w: %s length %d", ErrMalformed, h.Type, h.Length)
	}

	n = HeaderSize + int(h.Length)
	if len(b) < n {
		return nil, 0, nil
	}

	msg, err = Decode(h.Type, b[HeaderSize:n])
	return msg, n, err
}

// Parser collects chunks of any size and returns complete messages
type Parser struct {
	buf []byte
}

func (p *Parser) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	return len(b), nil
}

// Next returns nil message and nil error when more bytes are needed
func (p *Parser) Next() (Message, error) {
	msg, n, err := Parse(p.buf)
	if n > 0 {
		p.buf = append(p.buf[:0], p.buf[n:]...)
	}
	return msg, err
}

// Buffered - number of bytes waiting for the rest of frame
func (p *Parser) Buffered() int {
	return len(p.buf)
}

type Reader struct {
	rd     io.Reader
	parser Parser
	buf    []byte
}

// readSize fits the largest DTLS record plaintext, record conns can't read less
const readSize = 1 << 14

func NewReader(rd io.Reader) *Reader {
	return &Reader{rd: rd, buf: make([]byte, readSize)}
}

func (r *Reader) ReadMessage() (Message, error) {
	for {
		msg, err := r.parser.Next()
		if err != nil || msg != nil {
			return msg, err
		}

		n, err := r.rd.Read(r.buf)
		if n > 0 {
			_, _ = r.parser.Write(r.buf[:n])
			continue
		}
		if err != nil {
			if err == io.EOF && r.parser.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Writer sends each message with exactly one Write call
type Writer struct {
	wr io.Writer
	mu sync.Mutex
}

func NewWriter(wr io.Writer) *Writer {
	return &Writer{wr: wr}
}

func (w *Writer) WriteMessage(m Message) error {
	b := Encode(m)

	w.mu.Lock()
	_, err := w.wr.Write(b)
	w.mu.Unlock()

	return err
}
