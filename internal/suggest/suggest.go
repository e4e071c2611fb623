// Package suggest probes low-risk URL transformations to find a working
// replacement for a broken link.
package suggest

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
	"github.com/linkmend/linkmend/internal/metrics"
)

// BranchResolver looks up the current default branch of a GitHub repository.
type BranchResolver interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// candidate is one transformation to probe.
type candidate struct {
	transform string
	url       string
}

// Suggester re-verifies ordered candidates through the session's verifier.
// The priority order is the contract: the first candidate that verifies wins.
type Suggester struct {
	verifier check.Verifier
	branches BranchResolver
	logger   *zap.Logger
}

// New builds a Suggester. The resolver may be nil, which disables the
// branch-substitution transformation.
func New(verifier check.Verifier, branches BranchResolver, logger *zap.Logger) *Suggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suggester{verifier: verifier, branches: branches, logger: logger}
}

// Suggest returns a working replacement URL for the broken verdict, or ""
// when no transformation resolves.
func (s *Suggester) Suggest(ctx context.Context, _ check.RepoKey, verdict check.Verdict) string {
	for _, cand := range s.candidates(ctx, verdict) {
		if ctx.Err() != nil {
			return ""
		}
		if cand.url == "" || cand.url == verdict.URL {
			continue
		}
		probe := s.verifier.Verify(ctx, cand.url)
		metrics.ObserveSuggestionProbe(cand.transform, probe.OK)
		if probe.OK {
			s.logger.Debug("replacement found",
				zap.String("url", verdict.URL),
				zap.String("suggested", cand.url),
				zap.String("transform", cand.transform),
			)
			return cand.url
		}
	}
	return ""
}

func (s *Suggester) candidates(ctx context.Context, verdict check.Verdict) []candidate {
	cands := []candidate{
		{"scheme_swap", swapScheme(verdict.URL)},
		{"slash_toggle", toggleTrailingSlash(verdict.URL)},
		{"lower_path", lowercasePath(verdict.URL)},
	}
	if verdict.FinalURL != "" {
		cands = append(cands, candidate{"redirect_target", verdict.FinalURL})
	}
	if cand, ok := s.branchCandidate(ctx, verdict.URL); ok {
		cands = append(cands, cand)
	}
	return cands
}

// branchCandidate substitutes the repository's current default branch into a
// repository-hosted path URL; the follow-up verification doubles as the
// path-existence probe.
func (s *Suggester) branchCandidate(ctx context.Context, rawURL string) (candidate, bool) {
	if s.branches == nil {
		return candidate{}, false
	}
	gh, ok := ParseGitHubURL(rawURL)
	if !ok || gh.Branch == "" {
		return candidate{}, false
	}
	branch, err := s.branches.DefaultBranch(ctx, gh.Owner, gh.Repo)
	if err != nil {
		s.logger.Debug("default branch lookup failed",
			zap.String("owner", gh.Owner),
			zap.String("repo", gh.Repo),
			zap.Error(err),
		)
		return candidate{}, false
	}
	if branch == "" || branch == gh.Branch {
		return candidate{}, false
	}
	return candidate{"branch_substitution", gh.WithBranch(branch)}, true
}

func swapScheme(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "http://" + strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		return "https://" + strings.TrimPrefix(rawURL, "http://")
	default:
		return ""
	}
}

func toggleTrailingSlash(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	} else {
		u.Path += "/"
	}
	return u.String()
}

func lowercasePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	lowered := strings.ToLower(u.Path)
	if lowered == u.Path {
		return ""
	}
	u.Path = lowered
	return u.String()
}
