package shell

import (
	"os"
	"regexp"
	"strings"
)

var envRe = regexp.MustCompile(`\${([^}{]+)}`)

// ReplaceEnvVars - support format ${DOLPHIN_PASSCODE} and ${DSU_LISTEN:127.0.0.1:26760}
func ReplaceEnvVars(text string) string {
	return ReplaceVars(text, os.LookupEnv)
}

func ReplaceVars(text string, lookup func(key string) (string, bool)) string {
	return envRe.ReplaceAllStringFunc(text, func(match string) string {
		key, def, hasDef := strings.Cut(match[2:len(match)-1], ":")

		if value, ok := lookup(key); ok {
			return value
		}
		if hasDef {
			return def
		}
		return match
	})
}
