// Package fallback carries the static country-image dataset the catalog
// serves when the live backing store yields nothing usable.
package fallback

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultKey is the distinguished entry used for countries the dataset does
// not know.
const DefaultKey = "default"

//go:embed data.json
var bundled []byte

// Table is an immutable mapping from country name to an ordered URL list.
// Every table carries a non-empty DefaultKey entry, so a lookup can always
// produce something renderable.
type Table struct {
	entries map[string][]string
}

// New validates entries and wraps them in a Table. The DefaultKey entry is
// required and must be non-empty.
func New(entries map[string][]string) (Table, error) {
	normalized := make(map[string][]string, len(entries))
	for name, urls := range entries {
		key := normalize(name)
		if key == "" {
			return Table{}, fmt.Errorf("fallback: blank country name")
		}
		if len(urls) == 0 {
			return Table{}, fmt.Errorf("fallback: country %q has no urls", name)
		}
		normalized[key] = append([]string(nil), urls...)
	}
	if len(normalized[DefaultKey]) == 0 {
		return Table{}, fmt.Errorf("fallback: %q entry required", DefaultKey)
	}
	return Table{entries: normalized}, nil
}

// Bundled returns the dataset compiled into the binary.
func Bundled() (Table, error) {
	var entries map[string][]string
	if err := json.Unmarshal(bundled, &entries); err != nil {
		return Table{}, fmt.Errorf("fallback: decode bundled dataset: %w", err)
	}
	return New(entries)
}

// LoadFile reads an operator-supplied JSON dataset from path.
func LoadFile(path string) (Table, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return Table{}, fmt.Errorf("fallback: load %s: %w", path, err)
	}
	entries := make(map[string][]string)
	for _, key := range k.Keys() {
		entries[key] = k.Strings(key)
	}
	table, err := New(entries)
	if err != nil {
		return Table{}, fmt.Errorf("fallback: %s: %w", path, err)
	}
	return table, nil
}

// URLs returns the fallback list for country, or the default list when the
// country has no specific entry. The result is a copy.
func (t Table) URLs(country string) []string {
	if urls, ok := t.entries[normalize(country)]; ok {
		return append([]string(nil), urls...)
	}
	return t.Default()
}

// Lookup returns the country-specific list only, with no default substitution.
func (t Table) Lookup(country string) ([]string, bool) {
	urls, ok := t.entries[normalize(country)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), urls...), true
}

// Default returns the DefaultKey list.
func (t Table) Default() []string {
	return append([]string(nil), t.entries[DefaultKey]...)
}

// All returns a copy of every country-specific entry, DefaultKey excluded.
func (t Table) All() map[string][]string {
	out := make(map[string][]string, len(t.entries))
	for name, urls := range t.entries {
		if name == DefaultKey {
			continue
		}
		out[name] = append([]string(nil), urls...)
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
