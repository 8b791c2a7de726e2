// Package archive writes compressed tarballs of build output.
package archive

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// Format selects the compression applied to the tarball
type Format int

const (
	Xz Format = iota
	Brotli
)

// ParseFormat accepts "xz" and "br"
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "xz":
		return Xz, nil
	case "br", "brotli":
		return Brotli, nil
	}
	return Xz, eris.Errorf("unknown archive format %q (must be xz or br)", name)
}

func (f Format) String() string {
	if f == Brotli {
		return "br"
	}
	return "xz"
}

// Ext returns the file extension for archives in this format
func (f Format) Ext() string {
	return ".tar." + f.String()
}

// Writer packs files into a compressed tarball
type Writer struct {
	hdl        *os.File
	compressor io.WriteCloser
	tar        *tar.Writer
	// OnFile is called after each regular file was added
	OnFile func(name string)
}

// NewWriter creates filename and prepares it for writing
func NewWriter(filename string, format Format) (*Writer, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filename)
	}

	var compressor io.WriteCloser
	switch format {
	case Brotli:
		compressor = brotli.NewWriterLevel(hdl, brotli.BestCompression)
	default:
		compressor, err = xz.NewWriter(hdl)
		if err != nil {
			hdl.Close()
			return nil, eris.Wrap(err, "failed to initialize xz writer")
		}
	}

	return &Writer{
		hdl:        hdl,
		compressor: compressor,
		tar:        tar.NewWriter(compressor),
	}, nil
}

// AddFile stores the file at path under the given archive name
func (w *Writer) AddFile(name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", path)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return eris.Wrapf(err, "failed to build header for %s", path)
	}
	header.Name = filepath.ToSlash(name)

	if info.IsDir() {
		header.Name += "/"
		return eris.Wrapf(w.tar.WriteHeader(header), "failed to write %s", name)
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	if err = w.tar.WriteHeader(header); err != nil {
		return eris.Wrapf(err, "failed to write header for %s", name)
	}

	if _, err = io.Copy(w.tar, f); err != nil {
		return eris.Wrapf(err, "failed to pack %s", path)
	}

	if w.OnFile != nil {
		w.OnFile(name)
	}
	return nil
}

// AddDir recursively stores dir under the archive name prefix
func (w *Writer) AddDir(prefix, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		return w.AddFile(filepath.Join(prefix, rel), path)
	})
}

// Close flushes all pending data and closes the file
func (w *Writer) Close() error {
	if err := w.tar.Close(); err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "failed to finish tarball")
	}

	if err := w.compressor.Close(); err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "failed to flush compressor")
	}

	return eris.Wrap(w.hdl.Close(), "failed to close archive")
}
