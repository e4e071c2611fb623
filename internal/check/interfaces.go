package check

import (
	"context"
	"iter"
	"time"
)

// Source yields the files of a repository snapshot. The returned sequence is
// lazy and single-use; per-file read problems are skipped inside it, while a
// snapshot-level failure (clone, missing branch) is returned up front.
type Source interface {
	Files(ctx context.Context, key RepoKey) (iter.Seq[RepoFile], error)
}

// Verifier computes one network verdict per distinct URL. Implementations
// cache verdicts for the lifetime of a session.
type Verifier interface {
	Verify(ctx context.Context, url string) Verdict
}

// Suggester proposes a working replacement for a broken URL, or "" when no
// low-risk transformation resolves.
type Suggester interface {
	Suggest(ctx context.Context, key RepoKey, verdict Verdict) string
}

// ResultStore persists the durable outcome of a completed run: the tracked
// repository row plus one row per fixed link.
type ResultStore interface {
	SaveRun(ctx context.Context, repo TrackedRepository, fixes []FileChange) (int64, error)
	Close()
}

// Publisher applies the fixes on a branch and opens a pull request,
// returning its URL. Failures here never fail the owning session.
type Publisher interface {
	Publish(ctx context.Context, key RepoKey, fixes []FileChange) (string, error)
}

// Notifier emits best-effort completion events.
type Notifier interface {
	Notify(ctx context.Context, event SessionEvent) error
}

// SessionEvent summarizes one finished session for downstream consumers.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	RepoURL   string `json:"repo_url"`
	Branch    string `json:"branch"`
	Status    string `json:"status"`
	Checked   int    `json:"checked"`
	Broken    int    `json:"broken"`
	Fixed     int    `json:"fixed"`
	PRURL     string `json:"pr_url,omitempty"`
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
