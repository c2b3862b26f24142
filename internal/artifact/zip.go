// Package artifact packages built functions and uploads them to object storage.
package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/runtime-babel/internal/bundler"
)

// Archive describes a written package
type Archive struct {
	Path  string `json:"path" yaml:"path"`
	Files int    `json:"files" yaml:"files"`
	Size  int64  `json:"size" yaml:"size"`
}

// Zip writes the packaged paths into a deflate-compressed zip at dest.
// Each path is stored under its packaged name; directories are added recursively.
func Zip(paths []bundler.PackagedPath, dest string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return nil, fmt.Errorf("failed to create package directory: %w", err)
	}

	f, err := os.Create(dest) //nolint:gosec // dest is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to create package: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := zip.NewWriter(f)
	files := 0
	for _, p := range paths {
		n, err := addPath(w, p.Name, p.Path)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to add %s to package: %w", p.Name, err)
		}
		files += n
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish package: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	log.Debug().Str("package", dest).Int("files", files).Int64("size", info.Size()).Msg("Package written")

	return &Archive{Path: dest, Files: files, Size: info.Size()}, nil
}

func addPath(w *zip.Writer, name, src string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 1, addFile(w, path.Clean(filepath.ToSlash(name)), src, info)
	}

	files := 0
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files++
		return addFile(w, path.Join(filepath.ToSlash(name), filepath.ToSlash(rel)), p, fi)
	})
	return files, err
}

func addFile(w *zip.Writer, name, src string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	in, err := os.Open(src) //nolint:gosec // src is a packaged path from the build
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	_, err = io.Copy(dst, in)
	return err
}
