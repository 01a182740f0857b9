package app

import (
	"io"
	"slices"
	"strings"
	"sync"
)

var (
	secrets         []string
	secretsReplacer *strings.Replacer
	secretsMu       sync.Mutex
)

// AddSecret hides value from logs and API output
func AddSecret(value string) {
	if value == "" {
		return
	}

	secretsMu.Lock()
	defer secretsMu.Unlock()

	if slices.Contains(secrets, value) {
		return
	}

	secrets = append(secrets, value)
	secretsReplacer = nil
}

func SecretString(s string) string {
	return getReplacer().Replace(s)
}

func SecretWriter(w io.Writer) io.Writer {
	return &secretWriter{w: w}
}

func getReplacer() *strings.Replacer {
	secretsMu.Lock()
	defer secretsMu.Unlock()

	if secretsReplacer == nil {
		oldnew := make([]string, 0, 2*len(secrets))
		for _, s := range secrets {
			oldnew = append(oldnew, s, "***")
		}
		secretsReplacer = strings.NewReplacer(oldnew...)
	}

	return secretsReplacer
}

type secretWriter struct {
	w io.Writer
}

func (s *secretWriter) Write(b []byte) (int, error) {
	if _, err := getReplacer().WriteString(s.w, string(b)); err != nil {
		return 0, err
	}
	// zerolog expects full length written
	return len(b), nil
}
