// Package compdb handles compile_commands.json files generated by CMake.
package compdb

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FileName is the name CMake uses for the compilation database
const FileName = "compile_commands.json"

// Method describes how Install provided the database
type Method int

const (
	// Skipped means there was no database to install
	Skipped Method = iota
	// Symlinked means the target is a symbolic link to the source
	Symlinked
	// Copied means the target is a plain copy of the source
	Copied
)

func (m Method) String() string {
	switch m {
	case Symlinked:
		return "symlinked"
	case Copied:
		return "copied"
	}
	return "skipped"
}

// RemoveStale deletes target if anything (including a dangling link) exists at that path.
func RemoveStale(target string) error {
	if _, err := os.Lstat(target); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "failed to check %s", target)
	}

	return eris.Wrapf(os.Remove(target), "failed to remove %s", target)
}

// Install makes source available at target. A symlink is tried first if symlinks is set;
// if that fails or isn't allowed, the file is copied instead.
func Install(source, target string, symlinks bool) (Method, error) {
	if _, err := os.Stat(source); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return Skipped, nil
		}
		return Skipped, eris.Wrapf(err, "failed to check %s", source)
	}

	if symlinks {
		if err := os.Symlink(source, target); err == nil {
			return Symlinked, nil
		}
	}

	if err := copyFile(source, target); err != nil {
		return Skipped, err
	}
	return Copied, nil
}

// copyFile writes through a temporary file so that a leftover symlink at target is replaced
// instead of followed.
func copyFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", source)
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(target), ".compile_commands-*")
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", target)
	}
	defer os.Remove(dst.Name())

	if _, err = io.Copy(dst, src); err != nil {
		dst.Close()
		return eris.Wrapf(err, "failed to copy %s to %s", source, target)
	}
	if err = dst.Close(); err != nil {
		return eris.Wrapf(err, "failed to write %s", target)
	}

	return eris.Wrapf(os.Rename(dst.Name(), target), "failed to replace %s", target)
}

// Merge concatenates the entries of several databases and writes them to output.
// All inputs are expected to use absolute paths.
func Merge(output string, inputs ...string) (int, error) {
	merged := make([]interface{}, 0)
	for _, fpath := range inputs {
		data, err := os.ReadFile(fpath)
		if err != nil {
			return 0, eris.Wrapf(err, "failed to read %s", fpath)
		}

		var chunk []interface{}
		err = json.Unmarshal(data, &chunk)
		if err != nil {
			return 0, eris.Wrapf(err, "failed to decode %s", fpath)
		}

		merged = append(merged, chunk...)
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, eris.Wrap(err, "failed to encode output")
	}

	if dir := filepath.Dir(output); dir != "" {
		if err = os.MkdirAll(dir, 0770); err != nil {
			return 0, eris.Wrapf(err, "failed to create %s", dir)
		}
	}

	err = os.WriteFile(output, data, 0660)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to write to %s", output)
	}

	return len(merged), nil
}
