package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/CanopyNet/canopy-core/internal/transfer"
)

// FileSpec pairs a file's location on disk with the metadata declared
// to the server at init.
type FileSpec struct {
	AbsPath string
	Meta    transfer.FileMeta
}

// Scanner walks a directory tree and collects the regular files of an
// upload, skipping anything the exclude patterns match.
type Scanner struct {
	exclude []string
}

func NewScanner(exclude []string) *Scanner {
	return &Scanner{exclude: exclude}
}

// Scan returns the files under root with size, mode and mtime filled
// in. Digests are computed later on the transfer pool. Excluded
// directories are pruned without descending.
func (s *Scanner) Scan(root string) ([]FileSpec, int64, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, err
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("%s is not a directory", root)
	}

	var specs []FileSpec
	var total int64
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		specs = append(specs, FileSpec{
			AbsPath: p,
			Meta: transfer.FileMeta{
				RelPath: rel,
				Size:    fi.Size(),
				Mode:    fi.Mode().Perm(),
				ModTime: fi.ModTime(),
			},
		})
		total += fi.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return specs, total, nil
}

// excluded matches each pattern against the slash-relative path and
// against every path segment, so "*.log" hits logs anywhere in the
// tree and "node_modules" prunes the whole directory.
func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for _, segment := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pattern, segment); ok {
				return true
			}
		}
	}
	return false
}
