package dataset

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
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

func TestLoadCSVWithSeparator(t *testing.T) {
	path := writeFile(t, "train.csv", "txt|label\nlage AF gemeten|ademfrequentie\npatient heeft AF|atriumfibrilleren\n")

	tbl, err := Load(path, '|')
	require.NoError(t, err)
	assert.Equal(t, []string{"txt", "label"}, tbl.Columns())
	assert.Equal(t, 2, tbl.Len())

	labels, ok := tbl.Column("label")
	require.True(t, ok)
	assert.Equal(t, []string{"ademfrequentie", "atriumfibrilleren"}, labels)
}

func TestLoadCSVDefaultComma(t *testing.T) {
	path := writeFile(t, "train.csv", "txt,label\n\"hoge RR, 180/90\",bloeddruk\n")

	tbl, err := Load(path, 0)
	require.NoError(t, err)
	texts, _ := tbl.Column("txt")
	assert.Equal(t, []string{"hoge RR, 180/90"}, texts)
}

func TestLoadCSVFormatErrors(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		_, err := Load(writeFile(t, "empty.csv", ""), ',')
		var fe *errs.FormatError
		assert.True(t, errors.As(err, &fe), "got %v", err)
	})
	t.Run("ragged row", func(t *testing.T) {
		_, err := Load(writeFile(t, "ragged.csv", "txt,label\na,b,c\n"), ',')
		var fe *errs.FormatError
		assert.True(t, errors.As(err, &fe), "got %v", err)
	})
}

type parquetRow struct {
	Txt   string `parquet:"txt"`
	Label string `parquet:"label"`
	Idx   int64  `parquet:"idx"`
}

func TestLoadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.parq")
	rows := []parquetRow{
		{Txt: "lage AF", Label: "ademfrequentie", Idx: 0},
		{Txt: "AF op ECG", Label: "atriumfibrilleren", Idx: 1},
		{Txt: "RR 120/80", Label: "bloeddruk", Idx: 2},
	}
	require.NoError(t, parquet.WriteFile(path, rows))

	tbl, err := Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	ds, err := Build(tbl, "txt", "label")
	require.NoError(t, err)
	s, err := ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, Sample{Text: "AF op ECG", Label: "atriumfibrilleren"}, s)

	_, ok := tbl.Column("idx")
	assert.True(t, ok)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load(writeFile(t, "train.xlsx", "x"), ',')
	var ue *errs.UnsupportedFormatError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, ".xlsx", ue.Ext)
}

func TestBuildMissingColumn(t *testing.T) {
	tbl := NewTable([]string{"txt"}, map[string][]string{"txt": {"a"}})
	_, err := Build(tbl, "txt", "label")
	var fe *errs.FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestGetOutOfRange(t *testing.T) {
	ds := FromSamples([]Sample{{Text: "a", Label: "b"}})

	_, err := ds.Get(1)
	assert.ErrorIs(t, err, errs.ErrIndexOutOfRange)
	_, err = ds.Get(-1)
	assert.ErrorIs(t, err, errs.ErrIndexOutOfRange)
}

func TestSplit(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = Sample{Text: string(rune('a' + i)), Label: "x"}
	}
	ds := FromSamples(samples)

	train, val := ds.Split(0.8, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, val.Len())

	seen := map[string]bool{}
	for _, part := range []*Dataset{train, val} {
		for i := range part.Len() {
			s, _ := part.Get(i)
			assert.False(t, seen[s.Text], "sample %q in both splits", s.Text)
			seen[s.Text] = true
		}
	}
	assert.Len(t, seen, 10)
}

func TestParseSep(t *testing.T) {
	r, err := ParseSep("|")
	require.NoError(t, err)
	assert.Equal(t, '|', r)

	r, err = ParseSep(`\t`)
	require.NoError(t, err)
	assert.Equal(t, '\t', r)

	r, err = ParseSep("")
	require.NoError(t, err)
	assert.Equal(t, ',', r)

	_, err = ParseSep("||")
	assert.Error(t, err)
}
