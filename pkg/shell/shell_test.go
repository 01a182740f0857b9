package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteSplit(t *testing.T) {
	tests := []struct {
		line string
		args []string
	}{
		{"pick 2", []string{"pick", "2"}},
		{"  send   'PRESS A' ", []string{"send", "PRESS A"}},
		{`send "SET MAIN 0.5 0.5"`, []string{"send", "SET MAIN 0.5 0.5"}},
		{`connect "service:Living Room"`, []string{"connect", "service:Living Room"}},
		{"", nil},
		{`send "PRESS A`, nil},
	}
	for _, test := range tests {
		require.Equal(t, test.args, QuoteSplit(test.line), test.line)
	}
}

func TestReplaceVars(t *testing.T) {
	env := map[string]string{"PASSCODE": "secret"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	require.Equal(t, "passcode: secret", ReplaceVars("passcode: ${PASSCODE}", lookup))
	require.Equal(t, "listen: 127.0.0.1:26760", ReplaceVars("listen: ${DSU_LISTEN:127.0.0.1:26760}", lookup))
	require.Equal(t, "x: ${MISSING}", ReplaceVars("x: ${MISSING}", lookup))
	require.Equal(t, "secret secret", ReplaceVars("${PASSCODE} ${PASSCODE:other}", lookup))
}
