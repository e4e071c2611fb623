// Package session owns the per-repository run state machine: admission
// control, pipeline execution, cancellation, and session retention.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
	"github.com/linkmend/linkmend/internal/extract"
	"github.com/linkmend/linkmend/internal/metrics"
)

// Deps wires the orchestrator's collaborators. Verifier and Suggester are
// factories because verdict caches live exactly one session.
type Deps struct {
	Source       check.Source
	Extractor    *extract.Extractor
	NewVerifier  func() check.Verifier
	NewSuggester func(check.Verifier) check.Suggester
	Store        check.ResultStore
	Publisher    check.Publisher
	Notifier     check.Notifier
	Clock        check.Clock
	IDs          check.IDGenerator
	Logger       *zap.Logger
}

// notifyTimeout bounds the best-effort completion event emit.
const notifyTimeout = 10 * time.Second

// session is the live record; its snapshot is guarded by the orchestrator
// mutex and handed out by value only.
type session struct {
	snap   check.Session
	cancel context.CancelFunc
}

// Orchestrator drives the crawl-verify-suggest-correct pipeline and enforces
// at most one active session per repository key.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	active   map[check.RepoKey]*session
}

// New builds an Orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:     deps,
		logger:   logger,
		sessions: make(map[string]*session),
		active:   make(map[check.RepoKey]*session),
	}
}

// Create admits a new session for the key and starts the pipeline without
// blocking the caller. It fails with check.ErrAlreadyInProgress while an
// active session exists for the same key.
func (o *Orchestrator) Create(key check.RepoKey) (check.Session, error) {
	if key.RepoURL == "" {
		return check.Session{}, errors.New("repository URL required")
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return check.Session{}, fmt.Errorf("generate session id: %w", err)
	}

	// The run outlives the caller's request, so it gets its own context.
	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		cancel()
		return check.Session{}, check.ErrAlreadyInProgress
	}
	s := &session{
		snap: check.Session{
			ID:      id,
			Key:     key,
			Status:  check.StatusPending,
			Created: o.deps.Clock.Now(),
		},
		cancel: cancel,
	}
	o.sessions[id] = s
	o.active[key] = s
	s.snap.Status = check.StatusProcessing
	s.snap.Started = s.snap.Created
	snap := snapshot(s)
	o.mu.Unlock()

	metrics.SessionStarted()
	o.logger.Info("session started",
		zap.String("session_id", id),
		zap.String("repo_url", key.RepoURL),
		zap.String("branch", key.Branch),
	)
	go o.run(runCtx, s)

	return snap, nil
}

// Get returns a snapshot of the session, terminal or not.
func (o *Orchestrator) Get(id string) (check.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return check.Session{}, check.ErrSessionNotFound
	}
	return snapshot(s), nil
}

// Cancel stops the active session for the key, if any. Cancelling a key with
// no active session is a deliberate no-op success.
func (o *Orchestrator) Cancel(key check.RepoKey) {
	o.mu.Lock()
	s, ok := o.active[key]
	o.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	o.finish(s, check.StatusFailed, nil, check.CancelledError, "")
	o.logger.Info("session cancelled",
		zap.String("session_id", s.snap.ID),
		zap.String("repo_url", key.RepoURL),
	)
}

// run executes one pipeline: extract, verify, suggest, persist, publish.
func (o *Orchestrator) run(ctx context.Context, s *session) {
	key := s.snap.Key

	files, err := o.deps.Source.Files(ctx, key)
	if err != nil {
		unavailable := &check.RepositoryUnavailableError{Key: key, Err: err}
		o.logger.Warn("repository unavailable", zap.String("session_id", s.snap.ID), zap.Error(err))
		o.finish(s, check.StatusFailed, nil, unavailable.Error(), "")
		return
	}

	links := slices.Collect(o.deps.Extractor.Links(files))
	verifier := o.deps.NewVerifier()
	verdicts := o.verifyAll(ctx, verifier, links)
	if ctx.Err() != nil {
		o.finish(s, check.StatusFailed, nil, check.CancelledError, "")
		return
	}

	suggester := o.deps.NewSuggester(verifier)
	suggestions := o.suggestBroken(ctx, suggester, key, verdicts)
	if ctx.Err() != nil {
		o.finish(s, check.StatusFailed, nil, check.CancelledError, "")
		return
	}

	// Results mirror extraction order: each occurrence is filled in by its
	// originating index, never appended in completion order.
	reports := make([]check.LinkReport, len(links))
	for i, link := range links {
		v := verdicts[link.URL]
		reports[i] = check.LinkReport{
			RawLink:      link,
			StatusCode:   v.StatusCode,
			OK:           v.OK,
			Message:      v.Message,
			SuggestedURL: suggestions[link.URL],
		}
	}
	fixes := collectFixes(reports)

	var notes []string
	repo := check.TrackedRepository{
		RepoURL:   key.RepoURL,
		Branch:    key.Branch,
		CheckedAt: o.deps.Clock.Now(),
	}
	if _, err := o.deps.Store.SaveRun(ctx, repo, fixes); err != nil {
		o.logger.Error("persist run failed", zap.String("session_id", s.snap.ID), zap.Error(err))
		notes = append(notes, fmt.Sprintf("persist failed: %v", err))
	}

	prURL := ""
	if len(fixes) > 0 && o.deps.Publisher != nil {
		url, err := o.deps.Publisher.Publish(ctx, key, fixes)
		if err != nil {
			// A publish failure is a partial outcome, not a pipeline failure.
			o.logger.Warn("publish failed", zap.String("session_id", s.snap.ID), zap.Error(err))
			notes = append(notes, fmt.Sprintf("publish failed: %v", err))
		} else {
			prURL = url
		}
	}

	if ctx.Err() != nil {
		o.finish(s, check.StatusFailed, nil, check.CancelledError, "")
		return
	}
	o.finish(s, check.StatusCompleted, reports, strings.Join(notes, "; "), prURL)
	o.notify(s, reports)
}

// verifyAll computes one verdict per distinct URL, fanned out concurrently.
// The verifier bounds in-flight requests and deduplicates internally; the
// fan-out here only keeps distinct URLs from serializing on each other.
func (o *Orchestrator) verifyAll(
	ctx context.Context,
	verifier check.Verifier,
	links []check.RawLink,
) map[string]check.Verdict {
	distinct := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if _, ok := seen[link.URL]; ok {
			continue
		}
		seen[link.URL] = struct{}{}
		distinct = append(distinct, link.URL)
	}

	results := make([]check.Verdict, len(distinct))
	var wg sync.WaitGroup
	for i, url := range distinct {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			results[i] = verifier.Verify(ctx, url)
		}(i, url)
	}
	wg.Wait()

	verdicts := make(map[string]check.Verdict, len(distinct))
	for i, url := range distinct {
		v := results[i]
		if v.URL == "" {
			v = check.Verdict{URL: url, OK: false, Message: check.CancelledError}
		}
		verdicts[url] = v
	}
	return verdicts
}

// suggestBroken probes replacements for broken URLs only.
func (o *Orchestrator) suggestBroken(
	ctx context.Context,
	suggester check.Suggester,
	key check.RepoKey,
	verdicts map[string]check.Verdict,
) map[string]string {
	suggestions := make(map[string]string)
	for url, v := range verdicts {
		if v.OK {
			continue
		}
		if ctx.Err() != nil {
			return suggestions
		}
		if suggested := suggester.Suggest(ctx, key, v); suggested != "" {
			suggestions[url] = suggested
		}
	}
	return suggestions
}

// collectFixes converts fixed reports into line replacements: one change per
// fixed link. Replacements on a shared line apply cumulatively, so the second
// change's OldContent is the first change's NewContent and the final
// NewContent carries every repair. A URL repeated on one line is replaced
// everywhere by its first change and yields no further rows.
func collectFixes(reports []check.LinkReport) []check.FileChange {
	type lineKey struct {
		path string
		line int
	}
	patched := make(map[lineKey]string)
	var fixes []check.FileChange
	for _, r := range reports {
		if !r.Fixed() {
			continue
		}
		k := lineKey{r.FilePath, r.LineNumber}
		current, ok := patched[k]
		if !ok {
			current = r.LineContent
		}
		replaced := strings.ReplaceAll(current, r.URL, r.SuggestedURL)
		if replaced == current {
			continue
		}
		patched[k] = replaced
		fixes = append(fixes, check.FileChange{
			FilePath:   r.FilePath,
			LineNumber: r.LineNumber,
			OldContent: current,
			NewContent: replaced,
		})
	}
	return fixes
}

// finish moves the session to a terminal state exactly once. Later calls
// lose: status is monotonic and terminal sessions are never mutated.
func (o *Orchestrator) finish(
	s *session,
	status check.SessionStatus,
	reports []check.LinkReport,
	errText string,
	prURL string,
) {
	o.mu.Lock()
	if s.snap.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	s.snap.Status = status
	s.snap.Reports = reports
	s.snap.Error = errText
	s.snap.PRURL = prURL
	s.snap.Finished = o.deps.Clock.Now()
	if o.active[s.snap.Key] == s {
		delete(o.active, s.snap.Key)
	}
	o.mu.Unlock()

	metrics.SessionFinished(string(status))
	o.logger.Info("session finished",
		zap.String("session_id", s.snap.ID),
		zap.String("status", string(status)),
		zap.String("error", errText),
	)
}

// notify emits a best-effort completion event.
func (o *Orchestrator) notify(s *session, reports []check.LinkReport) {
	if o.deps.Notifier == nil {
		return
	}
	snap, err := o.Get(s.snap.ID)
	if err != nil {
		return
	}
	broken, fixed := 0, 0
	for _, r := range reports {
		if !r.OK {
			broken++
		}
		if r.Fixed() {
			fixed++
		}
	}
	event := check.SessionEvent{
		SessionID: snap.ID,
		RepoURL:   snap.Key.RepoURL,
		Branch:    snap.Key.Branch,
		Status:    string(snap.Status),
		Checked:   len(reports),
		Broken:    broken,
		Fixed:     fixed,
		PRURL:     snap.PRURL,
	}
	ctx, cancelNotify := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancelNotify()
	if err := o.deps.Notifier.Notify(ctx, event); err != nil {
		o.logger.Warn("completion notify failed", zap.String("session_id", snap.ID), zap.Error(err))
	}
}

func snapshot(s *session) check.Session {
	snap := s.snap
	snap.Reports = slices.Clone(s.snap.Reports)
	return snap
}
