package controller

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

type EndpointKind uint8

const (
	EndpointHostPort EndpointKind = iota + 1
	EndpointService
)

const (
	endpointVersion = 1
	ServiceType     = "_dolphinC._tcp"
	ServiceDomain   = "local."
)

var ErrEndpoint = errors.New("controller: bad endpoint")

// Endpoint - server address, either host and port or discovered service instance
type Endpoint struct {
	Kind EndpointKind

	Host string
	Port uint16

	Name   string
	Type   string
	Domain string
}

func HostPort(host string, port uint16) Endpoint {
	return Endpoint{Kind: EndpointHostPort, Host: host, Port: port}
}

func Service(name string) Endpoint {
	return Endpoint{Kind: EndpointService, Name: name, Type: ServiceType, Domain: ServiceDomain}
}

// ParseEndpoint accepts "host:port" or "service:instance name"
func ParseEndpoint(s string) (Endpoint, error) {
	if name, ok := strings.CutPrefix(s, "service:"); ok && name != "" {
		return Service(name), nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrEndpoint, err)
	}
	i, err := strconv.ParseUint(port, 10, 16)
	if err != nil || i == 0 {
		return Endpoint{}, fmt.Errorf("%w: port %q", ErrEndpoint, port)
	}
	return HostPort(host, uint16(i)), nil
}

func (e Endpoint) IsZero() bool {
	return e.Kind == 0
}

func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointHostPort:
		return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
	case EndpointService:
		return e.Name + "." + e.Type + "." + e.Domain
	}
	return ""
}

// MarshalBinary - [version][kind][fields], strings with uint16 length prefix
func (e Endpoint) MarshalBinary() ([]byte, error) {
	b := []byte{endpointVersion, byte(e.Kind)}

	switch e.Kind {
	case EndpointHostPort:
		b = appendString(b, e.Host)
		b = binary.LittleEndian.AppendUint16(b, e.Port)
	case EndpointService:
		b = appendString(b, e.Name)
		b = appendString(b, e.Type)
		b = appendString(b, e.Domain)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrEndpoint, e.Kind)
	}
	return b, nil
}

func (e *Endpoint) UnmarshalBinary(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("%w: short data", ErrEndpoint)
	}
	if b[0] != endpointVersion {
		return fmt.Errorf("%w: version %d", ErrEndpoint, b[0])
	}

	r := endpointReader{b: b[2:]}

	var res Endpoint
	res.Kind = EndpointKind(b[1])

	switch res.Kind {
	case EndpointHostPort:
		res.Host = r.string()
		res.Port = r.uint16()
	case EndpointService:
		res.Name = r.string()
		res.Type = r.string()
		res.Domain = r.string()
	default:
		return fmt.Errorf("%w: kind %d", ErrEndpoint, res.Kind)
	}

	if r.err || len(r.b) != 0 {
		return fmt.Errorf("%w: bad %d bytes", ErrEndpoint, len(b))
	}

	*e = res
	return nil
}

// MarshalText - base64 of binary form, so it fits in YAML config
func (e Endpoint) MarshalText() ([]byte, error) {
	if e.IsZero() {
		return []byte{}, nil
	}
	b, err := e.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(b)), nil
}

func (e *Endpoint) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*e = Endpoint{}
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEndpoint, err)
	}
	return e.UnmarshalBinary(b)
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

type endpointReader struct {
	b   []byte
	err bool
}

func (r *endpointReader) uint16() uint16 {
	if len(r.b) < 2 {
		r.err = true
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *endpointReader) string() string {
	n := int(r.uint16())
	if r.err || len(r.b) < n {
		r.err = true
		return ""
	}
	s := string(r.b[:n])
	r.b = r.b[n:]
	return s
}
