// Package posix contains cross-platform implementations of the few POSIX file commands
// the task runner relies on. They back both the CLI helpers and the shell interpreter so
// that task commands behave the same on every OS.
package posix

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
)

// RmOptions mirror the -r and -f flags of rm
type RmOptions struct {
	Recursive bool
	Force     bool
}

func expandArgs(args []string, force bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if force {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}
	return items, nil
}

// Rm deletes the given paths
func Rm(opts RmOptions, args ...string) error {
	items, err := expandArgs(args, opts.Force)
	if err != nil {
		return err
	}

	existing := make([]string, 0, len(items))
	for _, item := range items {
		info, err := os.Lstat(item)
		if err != nil {
			if opts.Force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !opts.Recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
		existing = append(existing, item)
	}

	for _, item := range existing {
		err := os.RemoveAll(item)
		if err != nil && (!opts.Force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// Mkdir creates each directory, including missing parents if makeParents is set
func Mkdir(makeParents bool, args ...string) error {
	var err error
	for _, item := range args {
		if makeParents {
			err = os.MkdirAll(item, 0770)
		} else {
			err = os.Mkdir(item, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

// Mv moves all but the last argument into the last one. A single source may also be
// renamed to a path that doesn't exist, yet.
func Mv(args ...string) error {
	if len(args) < 2 {
		return eris.New("Not enough parameters")
	}

	dest := filepath.Clean(args[len(args)-1])
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
		}
	} else {
		destIsDir = info.IsDir()
	}

	if len(args) > 2 && !destIsDir {
		return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
	}

	items, err := expandArgs(args[:len(args)-1], false)
	if err != nil {
		return err
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// EmptyDir removes every entry inside dir but keeps dir itself. A missing dir is not an error.
func EmptyDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "Failed to read %s", dir)
	}

	// entry names are literal, so skip the glob expansion Rm does on Windows
	for _, entry := range entries {
		item := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(item); err != nil {
			return 0, eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return len(entries), nil
}
