package app

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apexskier/dolphin-controller-sub000/pkg/shell"
	"github.com/apexskier/dolphin-controller-sub000/pkg/yaml"
)

// Sections - top level keys read by modules, anything else is a typo
var Sections = []string{"log", "api", "controller", "dsu", "client"}

var ErrConfigDisabled = errors.New("app: config file disabled")

type source struct {
	name string // file path or "flag"
	data []byte
	err  error
}

var sources []*source

// LoadConfig applies every config source to v, later sources win
func LoadConfig(v any) {
	for _, src := range sources {
		if src.data == nil {
			continue
		}
		if err := yaml.Unmarshal(src.data, v); err != nil {
			Logger.Warn().Err(err).Str("source", src.name).Msg("[app] read config")
		}
	}
}

// PatchConfig changes one value in config file, nil value removes it.
// Following LoadConfig calls see the new value.
func PatchConfig(path []string, value any) error {
	if ConfigPath == "" {
		return ErrConfigDisabled
	}

	b, err := os.ReadFile(ConfigPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if b, err = yaml.Patch(b, path, value); err != nil {
		return err
	}

	if err = writeFile(ConfigPath, b); err != nil {
		return err
	}

	for _, src := range sources {
		if src.name == ConfigPath {
			src.data = []byte(shell.ReplaceEnvVars(string(b)))
		}
	}

	return nil
}

// writeFile replaces file with rename, so readers never see half of it
func writeFile(name string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*")
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err1 := f.Close(); err == nil {
		err = err1
	}
	if err == nil {
		err = os.Chmod(f.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(f.Name(), name)
	}
	if err != nil {
		_ = os.Remove(f.Name())
	}
	return err
}

type flagConfig []string

func (c *flagConfig) String() string {
	return strings.Join(*c, " ")
}

func (c *flagConfig) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func initConfig(confs flagConfig) {
	sources = nil

	if confs == nil {
		confs = []string{DefaultConfig}
	}

	for _, conf := range confs {
		if len(conf) == 0 {
			continue
		}

		if conf[0] == '{' {
			// raw YAML or JSON
			sources = append(sources, &source{name: "flag", data: []byte(conf)})
			continue
		}

		// logger isn't ready yet, errors are reported by checkConfig
		if data, err := parseConfString(conf); err != nil {
			sources = append(sources, &source{name: conf, err: err})
			continue
		} else if data != nil {
			sources = append(sources, &source{name: "flag", data: data})
			continue
		}

		name := conf
		if !filepath.IsAbs(name) {
			if cwd, err := os.Getwd(); err == nil {
				name = filepath.Join(cwd, name)
			}
		}

		// first file takes patches, even if it doesn't exist yet
		if ConfigPath == "" {
			ConfigPath = name
		}

		src := &source{name: name}
		if data, _ := os.ReadFile(name); data != nil {
			src.data = []byte(shell.ReplaceEnvVars(string(data)))
		}
		sources = append(sources, src)
	}

	if ConfigPath != "" {
		Info["config_path"] = ConfigPath
	}
}

// parseConfString - `controller.slots=2` => `controller: {slots: 2}`.
// Returns nil for strings without dotted key.
func parseConfString(s string) ([]byte, error) {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return nil, nil
	}

	keys := strings.Split(s[:i], ".")
	if len(keys) < 2 || slices.Contains(keys, "") {
		return nil, nil
	}

	// value keeps YAML type: number, bool, list
	var value any
	if err := yaml.Unmarshal([]byte(s[i+1:]), &value); err != nil {
		return nil, err
	}

	for j := len(keys) - 1; j >= 0; j-- {
		value = map[string]any{keys[j]: value}
	}

	return yaml.Encode(value, 2)
}

func checkConfig() {
	for _, src := range sources {
		if src.err != nil {
			Logger.Warn().Err(src.err).Str("source", src.name).Msg("[app] read config")
		}
	}
	for _, key := range unknownSections() {
		Logger.Warn().Str("section", key).Msg("[app] unknown config section")
	}
}

// unknownSections returns top level keys no module reads
func unknownSections() (keys []string) {
	for _, src := range sources {
		var top map[string]any
		if src.data == nil || yaml.Unmarshal(src.data, &top) != nil {
			continue
		}
		for key := range top {
			if !slices.Contains(Sections, key) && !slices.Contains(keys, key) {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	return
}
