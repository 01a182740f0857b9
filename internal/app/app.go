package app

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
)

var Version = "0.3.0"

// DefaultConfig - config file used without -config flag
var DefaultConfig = "dolphin.yaml"

var ConfigPath string

var Info = map[string]any{
	"version": Version,
}

// Init parses flags, reads config and sets up logger.
// Must be called before any module Init.
func Init(name string) {
	var confs flagConfig
	var version bool

	flag.Var(&confs, "config", "config (path to file, raw YAML or key.sub=value), support multiple")
	flag.BoolVar(&version, "version", false, "Print the version of the application and exit")
	flag.Parse()

	revision := vcsRevision()

	if version {
		fmt.Printf("%s version %s%s %s/%s\n", name, Version, revision, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	initConfig(confs)
	initLogger()
	checkConfig()

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	Logger.Info().Str("version", Version+revision).Str("platform", platform).Msg(name)
	Logger.Debug().Str("version", runtime.Version()).Msg("build")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) > 7 {
				return " (" + setting.Value[:7] + ")"
			}
			return " (" + setting.Value + ")"
		}
	}
	return ""
}
