package bundler

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateDistDir creates a fresh build directory named <name>@<unix-millis> under root.
// An empty root means the OS temp directory.
func CreateDistDir(root, name string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, name+"@"+strconv.FormatInt(time.Now().UnixMilli(), 10))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create dist directory: %w", err)
	}
	return dir, nil
}

// CopyFunction copies the function sources from src into dst.
// node_modules directories are skipped, as is every path whose slash-separated
// form relative to src matches one of excludePatterns.
func CopyFunction(src, dst string, excludePatterns []string) error {
	excludes := make([]*regexp.Regexp, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		excludes = append(excludes, re)
	}

	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() && d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		slashRel := filepath.ToSlash(rel)
		for _, re := range excludes {
			if re.MatchString(slashRel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0750)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		copied++
		return copyFile(path, target)
	})
	if err != nil {
		return fmt.Errorf("failed to copy function: %w", err)
	}

	log.Debug().Str("src", src).Str("dst", dst).Int("files", copied).Msg("Copied function to dist directory")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // path comes from walking the function root
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()) //nolint:gosec // dst is inside the dist directory
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
