// Package assets locates data snapshots on disk. Snapshot file names sort
// chronologically, so the newest one is the greatest path.
package assets

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// Walk returns every regular file below dir, recursing into subdirectories.
func Walk(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assets: walk %s: %w", dir, err)
	}
	return files, nil
}

// BySuffix returns the files ending in suffix, greatest path first.
func BySuffix(files []string, suffix string) []string {
	var out []string
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// LatestFile returns the greatest path below dir ending in suffix.
func LatestFile(dir, suffix string) (string, error) {
	files, err := Walk(dir)
	if err != nil {
		return "", err
	}
	return latest(files, dir, suffix)
}

// Latest returns the newest mapping and dataset snapshot below dir.
func Latest(dir, mappingSuffix, dataSuffix string) (mappingPath, dataPath string, err error) {
	files, err := Walk(dir)
	if err != nil {
		return "", "", err
	}
	if mappingPath, err = latest(files, dir, mappingSuffix); err != nil {
		return "", "", err
	}
	if dataPath, err = latest(files, dir, dataSuffix); err != nil {
		return "", "", err
	}
	return mappingPath, dataPath, nil
}

func latest(files []string, dir, suffix string) (string, error) {
	found := BySuffix(files, suffix)
	if len(found) == 0 {
		return "", fmt.Errorf("assets: no %s file below %s: %w", suffix, dir, fs.ErrNotExist)
	}
	return found[0], nil
}
