// Package mapping loads the expansion → abbreviation table and derives its
// inverse, the abbreviation → candidate expansions lookup used by the
// streamer and by inference.
//
// The table is surjective onto abbreviations and not injective: many
// expansions may share one abbreviation, but each expansion belongs to
// exactly one abbreviation.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/medexpand/internal/errs"
)

// ErrConflictingExpansion is wrapped in a FormatError when one expansion is
// mapped to two different abbreviations.
var ErrConflictingExpansion = errors.New("expansion mapped to more than one abbreviation")

// ErrBlankEntry is returned for an empty or whitespace-only expansion or
// abbreviation. Replacing such an abbreviation would rewrite every sentence.
var ErrBlankEntry = errors.New("expansion and abbreviation must not be blank")

// Mapping is an ordered expansion → abbreviation table. Iteration follows
// first-seen order in the source file.
type Mapping struct {
	keys   []string
	values map[string]string
}

// New builds a Mapping from ordered (expansion, abbreviation) pairs.
// Identical duplicates are ignored; conflicting duplicates are an error.
func New(pairs [][2]string) (*Mapping, error) {
	m := &Mapping{values: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		if err := m.add(p[0], p[1]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Mapping) add(expansion, abbr string) error {
	if strings.TrimSpace(expansion) == "" || strings.TrimSpace(abbr) == "" {
		return fmt.Errorf("%w: %q → %q", ErrBlankEntry, expansion, abbr)
	}
	if prev, ok := m.values[expansion]; ok {
		if prev != abbr {
			return fmt.Errorf("%w: %q → %q and %q", ErrConflictingExpansion, expansion, prev, abbr)
		}
		return nil
	}
	m.values[expansion] = abbr
	m.keys = append(m.keys, expansion)
	return nil
}

// Len returns the number of expansions.
func (m *Mapping) Len() int { return len(m.keys) }

// Get returns the abbreviation for an expansion.
func (m *Mapping) Get(expansion string) (string, bool) {
	abbr, ok := m.values[expansion]
	return abbr, ok
}

// Keys returns the expansions in source order. The slice must not be modified.
func (m *Mapping) Keys() []string { return m.keys }

// Load reads a file holding a sequence of one-entry records, e.g.
//
//	[{"ademfrequentie": "AF"}, {"atriumfibrilleren": "AF"}]
//
// and folds every record into one flat Mapping. JSON and YAML sequences are
// both accepted; record order is preserved.
func Load(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: %w", err)
	}
	m, err := parse(data)
	if err != nil {
		return nil, &errs.FormatError{Path: path, Err: err}
	}
	return m, nil
}

func parse(data []byte) (*Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a sequence of records", root.Line)
	}

	m := &Mapping{values: make(map[string]string, len(root.Content))}
	for _, rec := range root.Content {
		if rec.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: record is not a key/value object", rec.Line)
		}
		// Content alternates key, value.
		for i := 0; i+1 < len(rec.Content); i += 2 {
			k, v := rec.Content[i], rec.Content[i+1]
			if !isText(k) || !isText(v) {
				return nil, fmt.Errorf("line %d: keys and values must be strings", k.Line)
			}
			if err := m.add(k.Value, v.Value); err != nil {
				return nil, fmt.Errorf("line %d: %w", k.Line, err)
			}
		}
	}
	return m, nil
}

func isText(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag != "!!null"
}
