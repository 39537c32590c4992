package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SinkDefinition names a sink and carries its raw options, keyed the way the
// sink reads them (url, atom.func, username, password, http.response.code).
type SinkDefinition struct {
	Name    string            `yaml:"name" json:"name"`
	Options map[string]string `yaml:"-" json:"-"`
}

type sinksFile struct {
	Sinks []struct {
		Name    string         `yaml:"name"`
		Options map[string]any `yaml:"options"`
	} `yaml:"sinks"`
}

// LoadSinks reads sink definitions from a YAML file. Scalar option values of
// any type are kept as their text, so an unquoted status code still loads.
func LoadSinks(path string) ([]SinkDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sinks file %s: %w", path, err)
	}
	var file sinksFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse sinks file %s: %w", path, err)
	}

	definitions := make([]SinkDefinition, 0, len(file.Sinks))
	for index, raw := range file.Sinks {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			return nil, fmt.Errorf("parse sinks file %s: sink %d has no name", path, index+1)
		}
		options := make(map[string]string, len(raw.Options))
		for key, value := range raw.Options {
			switch typed := value.(type) {
			case nil:
				continue
			case map[string]any, []any:
				return nil, fmt.Errorf("parse sinks file %s: sink %s option %s must be a scalar", path, name, key)
			default:
				options[strings.TrimSpace(key)] = fmt.Sprint(typed)
			}
		}
		definitions = append(definitions, SinkDefinition{Name: name, Options: options})
	}
	return definitions, nil
}

// Sinks returns every configured sink: the environment sink first when
// FEED_SINK_URL is set, then the sinks file. Names must be unique.
func (c Config) Sinks() ([]SinkDefinition, error) {
	var definitions []SinkDefinition
	if c.SinkURL != "" {
		definitions = append(definitions, c.EnvSink())
	}
	if c.SinksFile != "" {
		fromFile, err := LoadSinks(c.SinksFile)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, fromFile...)
	}
	seen := map[string]bool{}
	for _, definition := range definitions {
		key := strings.ToLower(definition.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate sink name %q", definition.Name)
		}
		seen[key] = true
	}
	return definitions, nil
}

// EnvSink builds the definition described by the FEED_SINK_* sink variables.
// Unset values are left out so the sink applies its own defaults.
func (c Config) EnvSink() SinkDefinition {
	options := map[string]string{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			options[key] = value
		}
	}
	set("url", c.SinkURL)
	set("atom.func", c.SinkAtomFunc)
	set("username", c.SinkUsername)
	set("password", c.SinkPassword)
	set("http.response.code", c.SinkResponseCode)
	return SinkDefinition{Name: c.SinkName, Options: options}
}

// SortedOptionKeys lists the option keys of a definition in a stable order.
func (d SinkDefinition) SortedOptionKeys() []string {
	keys := make([]string, 0, len(d.Options))
	for key := range d.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
