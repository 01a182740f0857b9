package controller

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/mdns"
	"github.com/apexskier/dolphin-controller-sub000/pkg/secure"
)

// Dialer returns secured connection to endpoint
type Dialer interface {
	Dial(ctx context.Context, endpoint Endpoint) (net.Conn, error)
}

type NetDialer struct {
	Secure  secure.Config
	Timeout time.Duration

	// Resolve - service endpoint to "host:port", mdns.Resolve by default
	Resolve func(ctx context.Context, endpoint Endpoint) (string, error)
}

func (d *NetDialer) Dial(ctx context.Context, endpoint Endpoint) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var address string

	switch endpoint.Kind {
	case EndpointHostPort:
		address = endpoint.String()
	case EndpointService:
		resolve := d.Resolve
		if resolve == nil {
			resolve = ResolveService
		}
		var err error
		if address, err = resolve(ctx, endpoint); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrEndpoint, endpoint.Kind)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	return secure.Client(ctx, conn, d.Secure)
}

func ResolveService(ctx context.Context, endpoint Endpoint) (string, error) {
	service := strings.TrimSuffix(endpoint.Type, ".") + "." + endpoint.Domain
	entry, err := mdns.Resolve(ctx, service, endpoint.Name)
	if err != nil {
		return "", err
	}
	return entry.Addr(), nil
}
