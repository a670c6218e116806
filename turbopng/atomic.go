package turbopng

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const tempPattern = ".turbopng-*.tmp"

// WriteAtomic writes data to path so that readers observe
// either the previous state of path or all of data.
//
// Without overwrite, the call fails with ErrOutputExists
// if path already exists, leaving it untouched.
func WriteAtomic(path string, data []byte, overwrite bool) error {
	return WriteAtomicFunc(path, overwrite, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// WriteAtomicFunc is like WriteAtomic, but the contents are
// produced by fill. If fill fails, path is left untouched.
func WriteAtomicFunc(path string, overwrite bool, fill func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err := fill(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return err
	}

	if overwrite {
		return os.Rename(tmp, path)
	}
	return linkNoClobber(tmp, path)
}

// linkNoClobber moves tmp to path unless path exists.
func linkNoClobber(tmp, path string) error {
	err := os.Link(tmp, path)
	if err == nil {
		return os.Remove(tmp)
	}
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrOutputExists, path)
	}

	// Some filesystems have no hard links; fall back to a
	// check followed by a rename.
	if _, statErr := os.Lstat(path); statErr == nil {
		return fmt.Errorf("%w: %s", ErrOutputExists, path)
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}
	return os.Rename(tmp, path)
}
