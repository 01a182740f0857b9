package mdns

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns" // awesome library for parsing mDNS records
)

var ErrNotFound = errors.New("mdns: service not found")

var MulticastAddr = &net.UDPAddr{
	IP:   net.IP{224, 0, 0, 251},
	Port: 5353,
}

const sendInterval = time.Millisecond * 505

type ServiceEntry struct {
	Name string            `json:"name,omitempty"`
	IP   net.IP            `json:"ip,omitempty"`
	Port uint16            `json:"port,omitempty"`
	Info map[string]string `json:"info,omitempty"`
}

func (e *ServiceEntry) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func (e *ServiceEntry) Complete() bool {
	return e.IP != nil && e.Port > 0
}

func (e *ServiceEntry) Addr() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(int(e.Port)))
}

// Resolve - multicast browse until entry with instance name found.
// Empty instance matches first entry.
func Resolve(ctx context.Context, service, instance string) (*ServiceEntry, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, MulticastAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return resolve(ctx, conn, MulticastAddr, service, instance)
}

func resolve(ctx context.Context, conn net.PacketConn, addr net.Addr, service, instance string) (entry *ServiceEntry, err error) {
	err = Browse(ctx, conn, addr, service, func(en *ServiceEntry) bool {
		if instance == "" || en.Name == instance {
			entry = en
			return true
		}
		return false
	})
	if entry == nil && err == nil {
		err = ErrNotFound
	}
	return
}

// Browse sends PTR query every half second and passes complete entries to onentry
// until it returns true or context is done
func Browse(ctx context.Context, conn net.PacketConn, addr net.Addr, service string, onentry func(*ServiceEntry) bool) error {
	msg := &dns.Msg{
		Question: []dns.Question{
			{Name: service, Qtype: dns.TypePTR, Qclass: dns.ClassINET},
		},
	}

	query, err := msg.Pack()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			if _, err := conn.WriteTo(query, addr); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sendInterval):
			}
		}
	}()

	// unblock ReadFrom on cancel
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	b := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(b)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err = msg.Unpack(b[:n]); err != nil || !msg.Response {
			continue
		}

		var ip net.IP
		if udp, ok := from.(*net.UDPAddr); ok {
			ip = udp.IP
		}

		for _, entry := range NewServiceEntries(msg, ip) {
			if entry.Complete() && onentry(entry) {
				return nil
			}
		}
	}
}

func GetPTR(msg *dns.Msg, service string) string {
	for _, record := range msg.Answer {
		if ptr, ok := record.(*dns.PTR); ok && ptr.Hdr.Name == service {
			return ptr.Ptr
		}
	}
	return ""
}

func NewServiceEntries(msg *dns.Msg, ip net.IP) (entries []*ServiceEntry) {
	records := make([]dns.RR, 0, len(msg.Answer)+len(msg.Ns)+len(msg.Extra))
	records = append(records, msg.Answer...)
	records = append(records, msg.Ns...)
	records = append(records, msg.Extra...)

	// PTR ptr=Living\ Room._dolphinC._tcp.local. hdr=_dolphinC._tcp.local.
	// TXT txt=...                                hdr=Living\ Room._dolphinC._tcp.local.
	// SRV target=host.local.                     hdr=Living\ Room._dolphinC._tcp.local.
	// A   a=192.168.1.123                        hdr=host.local.

	for _, record := range records {
		ptr, ok := record.(*dns.PTR)
		if !ok {
			continue
		}

		entry := &ServiceEntry{Name: instanceName(ptr.Ptr)}

		for _, rr := range records {
			if txt, ok := rr.(*dns.TXT); ok && txt.Hdr.Name == ptr.Ptr {
				entry.Info = make(map[string]string, len(txt.Txt))
				for _, s := range txt.Txt {
					k, v, _ := strings.Cut(s, "=")
					entry.Info[k] = v
				}
				break
			}
		}

		for _, rr := range records {
			srv, ok := rr.(*dns.SRV)
			if !ok || srv.Hdr.Name != ptr.Ptr {
				continue
			}

			entry.Port = srv.Port

			for _, rr = range records {
				if a, ok := rr.(*dns.A); ok && a.Hdr.Name == srv.Target {
					// host can have multiple addresses, prefer sender one
					if entry.IP == nil || ip.Equal(a.A) {
						entry.IP = a.A
					}
				}
			}
			break
		}

		entries = append(entries, entry)
	}

	return
}

// instanceName - first label of PTR target without escapes
func instanceName(ptr string) string {
	var b strings.Builder
	for i := 0; i < len(ptr); i++ {
		switch c := ptr[i]; c {
		case '\\':
			if i+3 < len(ptr) && isDigit(ptr[i+1]) && isDigit(ptr[i+2]) && isDigit(ptr[i+3]) {
				// \DDD decimal escape
				b.WriteByte((ptr[i+1]-'0')*100 + (ptr[i+2]-'0')*10 + ptr[i+3] - '0')
				i += 3
			} else if i+1 < len(ptr) {
				i++
				b.WriteByte(ptr[i])
			}
		case '.':
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
