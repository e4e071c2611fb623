package gitrepo

import (
	"context"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
)

// cloneTimeout bounds a single shallow clone.
const cloneTimeout = 2 * time.Minute

// CloneSource obtains a repository snapshot with a shallow git clone into a
// temporary directory, then walks it like DirSource. The clone is removed
// once the file iterator has been drained.
type CloneSource struct {
	logger *zap.Logger
}

// NewCloneSource builds a CloneSource.
func NewCloneSource(logger *zap.Logger) *CloneSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloneSource{logger: logger}
}

// Files clones the repository at the key's branch and yields its files. A
// clone failure is reported as RepositoryUnavailableError.
func (s *CloneSource) Files(ctx context.Context, key check.RepoKey) (iter.Seq[check.RepoFile], error) {
	dir, err := os.MkdirTemp("", "linkmend-clone-*")
	if err != nil {
		return nil, fmt.Errorf("create clone dir: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	args := []string{"clone", "--depth", "1"}
	if key.Branch != "" {
		args = append(args, "--branch", key.Branch)
	}
	args = append(args, key.RepoURL, dir)

	cmd := exec.CommandContext(cloneCtx, "git", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(dir)
		s.logger.Warn("git clone failed",
			zap.String("repo_url", key.RepoURL),
			zap.String("branch", key.Branch),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return nil, &check.RepositoryUnavailableError{
			Key: key,
			Err: fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	inner := NewDirSource(afero.NewOsFs(), dir, s.logger)
	files, err := inner.Files(ctx, key)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return func(yield func(check.RepoFile) bool) {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("remove clone dir", zap.String("dir", dir), zap.Error(err))
			}
		}()
		for file := range files {
			if !yield(file) {
				return
			}
		}
	}, nil
}
