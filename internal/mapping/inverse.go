package mapping

// Inverse maps each abbreviation to its candidate expansions. It is derived
// from a Mapping by Invert and never mutated afterwards.
type Inverse struct {
	src    *Mapping
	abbrs  []string
	groups map[string][]string
}

// Invert groups expansions by abbreviation. Abbreviations appear in the
// order they are first seen while iterating m, and each candidate list
// follows m's iteration order. The result is therefore identical across
// loads of the same file, which keeps target indices reproducible.
func Invert(m *Mapping) *Inverse {
	inv := &Inverse{src: m, groups: make(map[string][]string)}
	for _, exp := range m.keys {
		abbr := m.values[exp]
		if _, ok := inv.groups[abbr]; !ok {
			inv.abbrs = append(inv.abbrs, abbr)
		}
		inv.groups[abbr] = append(inv.groups[abbr], exp)
	}
	return inv
}

// Candidates returns the expansions of abbr. The slice must not be modified.
func (inv *Inverse) Candidates(abbr string) ([]string, bool) {
	c, ok := inv.groups[abbr]
	return c, ok
}

// Abbreviation returns the abbreviation an expansion belongs to, read from
// the mapping the inverse was derived from.
func (inv *Inverse) Abbreviation(expansion string) (string, bool) {
	return inv.src.Get(expansion)
}

// Abbreviations returns every abbreviation in first-seen order.
func (inv *Inverse) Abbreviations() []string { return inv.abbrs }

// Len returns the number of abbreviations.
func (inv *Inverse) Len() int { return len(inv.abbrs) }
