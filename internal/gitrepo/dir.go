// Package gitrepo provides repository snapshot sources: an existing checkout
// on a filesystem, and a shallow clone of a remote repository.
package gitrepo

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
)

// maxFileSize caps how large a file the source will read. Anything bigger is
// not link-bearing text.
const maxFileSize = 4 << 20

// DirSource yields the files of a checkout rooted at Root. The filesystem is
// injectable so tests run against an in-memory FS.
type DirSource struct {
	fsys   afero.Fs
	root   string
	logger *zap.Logger
}

// NewDirSource builds a DirSource over fsys rooted at root.
func NewDirSource(fsys afero.Fs, root string, logger *zap.Logger) *DirSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirSource{fsys: fsys, root: root, logger: logger}
}

// Files walks the checkout and yields one RepoFile per regular file, in
// lexical path order. The .git directory is skipped. Read failures skip the
// file rather than aborting the walk.
func (s *DirSource) Files(ctx context.Context, key check.RepoKey) (iter.Seq[check.RepoFile], error) {
	var paths []string
	err := afero.Walk(s.fsys, s.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || info.Size() > maxFileSize {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, &check.RepositoryUnavailableError{Key: key, Err: err}
	}
	sort.Strings(paths)

	return func(yield func(check.RepoFile) bool) {
		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			content, err := afero.ReadFile(s.fsys, path)
			if err != nil {
				s.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
				continue
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)
			if !yield(check.RepoFile{Path: rel, Content: string(content)}) {
				return
			}
		}
	}, nil
}
