// Package log provides a Publisher that records the would-be pull request in
// the service log instead of opening one. It stands in wherever no forge
// credentials are configured.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
)

// Publisher logs one entry per corrected file change.
type Publisher struct {
	logger *zap.Logger
}

// New builds a Publisher on the given logger.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish logs the proposed corrections and returns no PR URL. It never
// fails.
func (p *Publisher) Publish(_ context.Context, key check.RepoKey, fixes []check.FileChange) (string, error) {
	p.logger.Info("proposed corrections",
		zap.String("repo_url", key.RepoURL),
		zap.String("branch", key.Branch),
		zap.Int("changes", len(fixes)),
	)
	for _, fix := range fixes {
		p.logger.Info("correction",
			zap.String("file", fix.FilePath),
			zap.Int("line", fix.LineNumber),
			zap.String("old", fix.OldContent),
			zap.String("new", fix.NewContent),
		)
	}
	return "", nil
}
