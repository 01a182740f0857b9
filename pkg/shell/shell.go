package shell

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// QuoteSplit splits line by spaces, single and double quotes keep spaces.
// Returns nil for unclosed quote.
func QuoteSplit(s string) []string {
	var a []string

	for len(s) > 0 {
		switch c := s[0]; c {
		case '\t', '\n', '\r', ' ':
			s = s[1:]
		case '"', '\'':
			i := strings.IndexByte(s[1:], c)
			if i < 0 {
				return nil
			}
			a = append(a, s[1:i+1])
			s = s[i+2:]
		default:
			if i := strings.IndexAny(s, "\t\n\r "); i > 0 {
				a = append(a, s[:i])
				s = s[i:]
			} else {
				a = append(a, s)
				s = ""
			}
		}
	}

	return a
}

// RunUntilSignal blocks until SIGINT or SIGTERM
func RunUntilSignal() os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	return <-sigs
}

// SignalContext is cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
