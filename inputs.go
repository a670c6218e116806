package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/unixpickle/turbopng/turbopng"
)

// resolveInputs expands directories into the PNG files
// beneath them and removes duplicates, keeping the order
// in which paths were first seen.
//
// Every input must exist; this is checked before any
// directory is walked.
func resolveInputs(inputs []string) ([]string, error) {
	for _, p := range inputs {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: input path %q does not exist", turbopng.ErrPathNotFound, p)
		} else if err != nil {
			return nil, err
		}
	}

	var files []string
	seen := map[string]bool{}
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, abs)
		}
	}
	for _, p := range inputs {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if isPNG(p) {
				add(p)
			}
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && d.Type().IsRegular() && isPNG(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}

func isPNG(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".png")
}
