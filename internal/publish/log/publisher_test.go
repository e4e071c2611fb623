package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
)

func TestPublish_NeverFailsAndReturnsNoURL(t *testing.T) {
	t.Parallel()

	p := New(zap.NewNop())
	url, err := p.Publish(context.Background(), check.RepoKey{RepoURL: "r", Branch: "main"}, []check.FileChange{
		{FilePath: "README.md", LineNumber: 1, OldContent: "http://a", NewContent: "https://a"},
	})
	require.NoError(t, err)
	require.Empty(t, url)
}

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), check.RepoKey{}, nil)
	require.NoError(t, err)
}
