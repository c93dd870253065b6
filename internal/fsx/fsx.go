// Package fsx provides the filesystem primitives shared by the partitioner,
// the submission generator and the fetch task: atomic file writes, moves that
// survive a cross-device rename, and the StorageError type every filesystem
// failure is reported as.
package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// renameFunc is swapped in tests to simulate EXDEV and permission failures.
var renameFunc = os.Rename

// StorageError reports a failed filesystem operation (create, write, move,
// delete) on Path.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is or wraps a *StorageError.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

// MkdirAll creates dir and its parents, reporting failure as a StorageError.
func MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

// Remove deletes path. A path that is already gone is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Move relocates src to dst. It renames when possible and falls back to
// copy+remove when src and dst live on different filesystems.
func Move(src, dst string) error {
	err := renameFunc(src, dst)
	if err == nil {
		return nil
	}
	if !isEXDEV(err) {
		return &StorageError{Op: "move", Path: src, Err: err}
	}
	if err := copyFile(src, dst); err != nil {
		return &StorageError{Op: "copy", Path: src, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return &StorageError{Op: "remove", Path: src, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// WriteFileAtomic writes data to dir/name through a temp file in the same
// directory and a rename, replacing any existing file. dir is created if
// absent.
func WriteFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	if err := MkdirAll(dir); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)
	if err := writeFileAtomic(dir, name, data, perm); err != nil {
		return &StorageError{Op: "write", Path: dst, Err: err}
	}
	return nil
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Temp and target share a directory, so a plain rename never crosses devices.
	return renameFunc(tmpName, filepath.Join(dir, name))
}
