package secure

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"net"
	"time"

	"github.com/pion/dtls/v3"
)

const DefaultIdentity = "DolphinController"

var ErrIdentity = errors.New("secure: unknown psk identity")

type Config struct {
	Passcode string
	// Identity - application name, PSK identity and HMAC message
	Identity string
}

// DeriveKey returns HMAC-SHA256 of identity keyed with passcode
func DeriveKey(passcode, identity string) []byte {
	h := hmac.New(sha256.New, []byte(passcode))
	h.Write([]byte(identity))
	return h.Sum(nil)
}

func (c Config) identity() string {
	if c.Identity == "" {
		return DefaultIdentity
	}
	return c.Identity
}

func (c Config) dtls(isServer bool) *dtls.Config {
	identity := c.identity()
	key := DeriveKey(c.Passcode, identity)

	return &dtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			// server gets client identity, client gets server hint
			if isServer && string(hint) != identity {
				return nil, ErrIdentity
			}
			return key, nil
		},
		PSKIdentityHint: []byte(identity),
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
		FlightInterval:  time.Second,
	}
}

// Server runs server side handshake over stream conn.
// Conn is closed on handshake error.
func Server(ctx context.Context, conn net.Conn, cfg Config) (net.Conn, error) {
	dc, err := dtls.Server(newRecordConn(conn), conn.RemoteAddr(), cfg.dtls(true))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return handshake(ctx, dc)
}

// Client runs client side handshake over stream conn.
// Conn is closed on handshake error.
func Client(ctx context.Context, conn net.Conn, cfg Config) (net.Conn, error) {
	dc, err := dtls.Client(newRecordConn(conn), conn.RemoteAddr(), cfg.dtls(false))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return handshake(ctx, dc)
}

func handshake(ctx context.Context, dc *dtls.Conn) (net.Conn, error) {
	if err := dc.HandshakeContext(ctx); err != nil {
		_ = dc.Close()
		return nil, err
	}
	return &splitConn{Conn: dc}, nil
}

// MaxRecordData - application data per record. Peer reads a whole record
// into 8 KiB buffer, that includes record header, nonce and GCM tag.
const MaxRecordData = 4096

// splitConn writes large buffers as several records, stream side joins them back
type splitConn struct {
	net.Conn
}

func (c *splitConn) Write(b []byte) (n int, err error) {
	for len(b) > 0 {
		size := min(len(b), MaxRecordData)

		var nn int
		nn, err = c.Conn.Write(b[:size])
		n += nn
		if err != nil {
			return
		}

		b = b[size:]
	}
	return
}
