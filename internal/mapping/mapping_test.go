package mapping

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/medexpand/internal/errs"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const afMapping = `[
  {"ademfrequentie": "AF"},
  {"bloeddruk": "RR"},
  {"atriumfibrilleren": "AF"},
  {"arteria femoralis": "AF"}
]`

func TestLoadPreservesSourceOrder(t *testing.T) {
	m, err := Load(writeFile(t, "map.json", afMapping))
	require.NoError(t, err)

	assert.Equal(t, 4, m.Len())
	assert.Equal(t, []string{"ademfrequentie", "bloeddruk", "atriumfibrilleren", "arteria femoralis"}, m.Keys())

	abbr, ok := m.Get("bloeddruk")
	require.True(t, ok)
	assert.Equal(t, "RR", abbr)
}

func TestInvertGroupsInIterationOrder(t *testing.T) {
	m, err := Load(writeFile(t, "map.json", afMapping))
	require.NoError(t, err)

	inv := Invert(m)
	assert.Equal(t, []string{"AF", "RR"}, inv.Abbreviations())

	af, ok := inv.Candidates("AF")
	require.True(t, ok)
	assert.Equal(t, []string{"ademfrequentie", "atriumfibrilleren", "arteria femoralis"}, af)

	_, ok = inv.Candidates("XYZ")
	assert.False(t, ok)
}

func TestInvertIsReproducibleAcrossLoads(t *testing.T) {
	path := writeFile(t, "map.json", afMapping)

	m1, err := Load(path)
	require.NoError(t, err)
	m2, err := Load(path)
	require.NoError(t, err)

	inv1, inv2 := Invert(m1), Invert(m2)
	require.Equal(t, inv1.Abbreviations(), inv2.Abbreviations())
	for _, abbr := range inv1.Abbreviations() {
		c1, _ := inv1.Candidates(abbr)
		c2, _ := inv2.Candidates(abbr)
		assert.Equal(t, c1, c2, "candidates of %s", abbr)
	}
}

func TestEveryExpansionAmongOwnCandidates(t *testing.T) {
	m, err := Load(writeFile(t, "map.json", afMapping))
	require.NoError(t, err)
	inv := Invert(m)

	for _, exp := range m.Keys() {
		abbr, _ := m.Get(exp)
		cands, ok := inv.Candidates(abbr)
		require.True(t, ok)
		assert.Contains(t, cands, exp)
	}
}

func TestEndToEndInverse(t *testing.T) {
	m, err := Load(writeFile(t, "map.json", `[{"ademfrequentie": "AF"}, {"atriumfibrilleren": "AF"}]`))
	require.NoError(t, err)

	cands, ok := Invert(m).Candidates("AF")
	require.True(t, ok)
	assert.Equal(t, []string{"ademfrequentie", "atriumfibrilleren"}, cands)
}

func TestLoadYAMLSequence(t *testing.T) {
	m, err := Load(writeFile(t, "map.yaml", "- ademfrequentie: AF\n- hartfrequentie: HF\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ademfrequentie", "hartfrequentie"}, m.Keys())
}

func TestLoadMultiEntryRecordFoldsAll(t *testing.T) {
	m, err := Load(writeFile(t, "map.json", `[{"ademfrequentie": "AF", "hartfrequentie": "HF"}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ademfrequentie", "hartfrequentie"}, m.Keys())
}

func TestDuplicateExpansions(t *testing.T) {
	t.Run("identical duplicate kept once", func(t *testing.T) {
		m, err := Load(writeFile(t, "map.json", `[{"ademfrequentie": "AF"}, {"bloeddruk": "RR"}, {"ademfrequentie": "AF"}]`))
		require.NoError(t, err)
		assert.Equal(t, []string{"ademfrequentie", "bloeddruk"}, m.Keys())
	})

	t.Run("conflicting duplicate rejected", func(t *testing.T) {
		_, err := Load(writeFile(t, "map.json", `[{"ademfrequentie": "AF"}, {"ademfrequentie": "AFR"}]`))
		require.Error(t, err)

		var fe *errs.FormatError
		require.True(t, errors.As(err, &fe))
		assert.ErrorIs(t, err, ErrConflictingExpansion)
	})
}

func TestLoadFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not parseable", `[{"ademfrequentie": `},
		{"empty", ``},
		{"object at top level", `{"ademfrequentie": "AF"}`},
		{"record is a string", `["ademfrequentie"]`},
		{"null value", `[{"ademfrequentie": null}]`},
		{"nested value", `[{"ademfrequentie": ["AF"]}]`},
		{"empty abbreviation", `[{"leeg": ""}]`},
		{"empty expansion", `[{"": "AF"}]`},
		{"blank abbreviation", `[{"ademfrequentie": "AF"}, {"leeg": "  "}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "map.json", tt.body))
			var fe *errs.FormatError
			require.True(t, errors.As(err, &fe), "got %v", err)
		})
	}
}

func TestLoadRejectsBlankEntries(t *testing.T) {
	_, err := Load(writeFile(t, "map.json", `[{"ademfrequentie": "AF"}, {"leeg": ""}]`))
	var fe *errs.FormatError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.ErrorIs(t, err, ErrBlankEntry)

	_, err = New([][2]string{{"ademfrequentie", ""}})
	assert.ErrorIs(t, err, ErrBlankEntry)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewFromPairs(t *testing.T) {
	m, err := New([][2]string{{"ademfrequentie", "AF"}, {"atriumfibrilleren", "AF"}})
	require.NoError(t, err)
	assert.Equal(t, 1, Invert(m).Len())

	_, err = New([][2]string{{"x", "A"}, {"x", "B"}})
	assert.ErrorIs(t, err, ErrConflictingExpansion)
}

func TestInverseAbbreviation(t *testing.T) {
	m, err := Load(writeFile(t, "map.json", afMapping))
	require.NoError(t, err)
	inv := Invert(m)

	abbr, ok := inv.Abbreviation("atriumfibrilleren")
	require.True(t, ok)
	assert.Equal(t, "AF", abbr)

	_, ok = inv.Abbreviation("hartfrequentie")
	assert.False(t, ok)
}
