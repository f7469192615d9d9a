package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestWalkRecurses(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.csv"))
	touch(t, filepath.Join(dir, "sub", "deeper", "b.json"))

	files, err := Walk(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "sub", "deeper", "b.json"),
	}, files)
}

func TestWalkMissingDir(t *testing.T) {
	_, err := Walk(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLatestPicksGreatestPath(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "2023-01-01", "mapping.json"))
	touch(t, filepath.Join(dir, "2024-06-01", "mapping.json"))
	touch(t, filepath.Join(dir, "2023-01-01", "train.csv"))
	touch(t, filepath.Join(dir, "2024-03-01", "train.csv"))
	touch(t, filepath.Join(dir, "2025-01-01", "notes.txt"))

	m, d, err := Latest(dir, ".json", ".csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024-06-01", "mapping.json"), m)
	assert.Equal(t, filepath.Join(dir, "2024-03-01", "train.csv"), d)
}

func TestLatestMissingKind(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "mapping.json"))

	_, _, err := Latest(dir, ".json", ".csv")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestBySuffixOrder(t *testing.T) {
	got := BySuffix([]string{"b.ckpt", "a.ckpt", "c.txt", "d.ckpt"}, ".ckpt")
	assert.Equal(t, []string{"d.ckpt", "b.ckpt", "a.ckpt"}, got)
}

func TestLatestFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a", "mapping.json"))
	touch(t, filepath.Join(dir, "b", "mapping.json"))

	got, err := LatestFile(dir, ".json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b", "mapping.json"), got)

	_, err = LatestFile(dir, ".csv")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
