// Package language maps the language labels used by the editor to the
// runtime identifiers understood by the remote execution backend.
package language

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// ErrUnsupported is returned when a label has no runtime mapping
var ErrUnsupported = errors.New("unsupported language")

//go:embed languages.yaml
var defaultTable []byte

// Config defines the on-disk format of a language table
type Config struct {
	Languages map[string]string `yaml:"languages"`
}

// Table is an immutable label -> runtime mapping. It is safe for concurrent use.
type Table struct {
	runtimes map[string]string
}

var defaultLanguages = mustParse(defaultTable)

// Default returns the built-in table
func Default() *Table {
	return defaultLanguages
}

// Load reads a language table from a yaml file
func Load(p string) (*Table, error) {
	d, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	t, err := Parse(d)
	if err != nil {
		return nil, fmt.Errorf("language table %s: %w", p, err)
	}
	return t, nil
}

// Parse builds a table from yaml content. Labels are lower cased.
func Parse(d []byte) (*Table, error) {
	var c Config
	if err := yaml.Unmarshal(d, &c); err != nil {
		return nil, err
	}
	return New(c.Languages)
}

// New copies m into a new table
func New(m map[string]string) (*Table, error) {
	if len(m) == 0 {
		return nil, errors.New("empty language table")
	}
	rt := make(map[string]string, len(m))
	for label, runtime := range m {
		label = normalize(label)
		if label == "" || runtime == "" {
			return nil, fmt.Errorf("invalid language entry %q: %q", label, runtime)
		}
		rt[label] = runtime
	}
	return &Table{runtimes: rt}, nil
}

// Resolve returns the runtime identifier for label, matched case-insensitively
func (t *Table) Resolve(label string) (string, error) {
	if r, ok := t.runtimes[normalize(label)]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, label)
}

// Labels returns the supported labels in sorted order
func (t *Table) Labels() []string {
	rt := make([]string, 0, len(t.runtimes))
	for label := range t.runtimes {
		rt = append(rt, label)
	}
	slices.Sort(rt)
	return rt
}

func normalize(label string) string {
	return strings.ToLower(label)
}

func mustParse(d []byte) *Table {
	t, err := Parse(d)
	if err != nil {
		panic(err)
	}
	return t
}
