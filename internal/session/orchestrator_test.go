package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkmend/linkmend/internal/check"
	"github.com/linkmend/linkmend/internal/extract"
)

type fakeSource struct {
	files []check.RepoFile
	err   error
}

func (f *fakeSource) Files(context.Context, check.RepoKey) (iter.Seq[check.RepoFile], error) {
	if f.err != nil {
		return nil, f.err
	}
	return slices.Values(f.files), nil
}

// fakeVerifier serves canned verdicts with optional per-URL delay and a gate
// that holds every verification until released.
type fakeVerifier struct {
	mu      sync.Mutex
	ok      map[string]bool
	delays  map[string]time.Duration
	gate    chan struct{}
	calls   map[string]int
	started atomic.Int32
}

func newFakeVerifier(ok map[string]bool) *fakeVerifier {
	return &fakeVerifier{ok: ok, calls: make(map[string]int)}
}

func (f *fakeVerifier) Verify(ctx context.Context, url string) check.Verdict {
	f.started.Add(1)
	f.mu.Lock()
	f.calls[url]++
	delay := f.delays[url]
	ok := f.ok[url]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return check.Verdict{URL: url, OK: false, Message: check.CancelledError}
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return check.Verdict{URL: url, OK: false, Message: check.CancelledError}
		}
	}
	if ok {
		return check.Verdict{URL: url, StatusCode: 200, OK: true}
	}
	return check.Verdict{URL: url, StatusCode: 404, OK: false, Message: "HTTP status code: 404 Not Found"}
}

func (f *fakeVerifier) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeSuggester struct {
	fixes map[string]string
}

func (f *fakeSuggester) Suggest(_ context.Context, _ check.RepoKey, v check.Verdict) string {
	return f.fixes[v.URL]
}

type fakeStore struct {
	mu    sync.Mutex
	repos []check.TrackedRepository
	fixes [][]check.FileChange
	err   error
}

func (f *fakeStore) SaveRun(_ context.Context, repo check.TrackedRepository, fixes []check.FileChange) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.repos = append(f.repos, repo)
	f.fixes = append(f.fixes, fixes)
	return int64(len(f.repos)), nil
}

func (f *fakeStore) Close() {}

type fakePublisher struct {
	mu    sync.Mutex
	url   string
	err   error
	calls [][]check.FileChange
}

func (f *fakePublisher) Publish(_ context.Context, _ check.RepoKey, fixes []check.FileChange) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fixes)
	return f.url, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []check.SessionEvent
}

func (f *fakeNotifier) Notify(_ context.Context, e check.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type seqIDGen struct{ n atomic.Int32 }

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("session-%d", g.n.Add(1)), nil
}

type testHarness struct {
	orch      *Orchestrator
	verifier  *fakeVerifier
	suggester *fakeSuggester
	store     *fakeStore
	publisher *fakePublisher
	notifier  *fakeNotifier
}

func newHarness(src check.Source, verifier *fakeVerifier, suggester *fakeSuggester) *testHarness {
	h := &testHarness{
		verifier:  verifier,
		suggester: suggester,
		store:     &fakeStore{},
		publisher: &fakePublisher{url: "https://github.com/acme/widgets/pull/7"},
		notifier:  &fakeNotifier{},
	}
	h.orch = New(Deps{
		Source:       src,
		Extractor:    extract.New(extract.Config{}, nil),
		NewVerifier:  func() check.Verifier { return verifier },
		NewSuggester: func(check.Verifier) check.Suggester { return suggester },
		Store:        h.store,
		Publisher:    h.publisher,
		Notifier:     h.notifier,
		Clock:        &fakeClock{now: time.Unix(1700000000, 0).UTC()},
		IDs:          &seqIDGen{},
	})
	return h
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) check.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.Get(id)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return check.Session{}
}

func TestOrchestrator_ResultOrderMirrorsExtraction(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{
		{Path: "f1.md", Content: "https://one.example.com\nhttps://two.example.com\n"},
		{Path: "f2.md", Content: "https://three.example.com\n"},
	}}
	verifier := newFakeVerifier(map[string]bool{
		"https://one.example.com":   true,
		"https://two.example.com":   true,
		"https://three.example.com": true,
	})
	// First-extracted URL completes last.
	verifier.delays = map[string]time.Duration{
		"https://one.example.com": 60 * time.Millisecond,
		"https://two.example.com": 30 * time.Millisecond,
	}
	h := newHarness(src, verifier, &fakeSuggester{})

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "https://github.com/acme/widgets", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusCompleted, final.Status)
	var got []string
	for _, r := range final.Reports {
		got = append(got, fmt.Sprintf("%s:%d:%s", r.FilePath, r.LineNumber, r.URL))
	}
	require.Equal(t, []string{
		"f1.md:1:https://one.example.com",
		"f1.md:2:https://two.example.com",
		"f2.md:1:https://three.example.com",
	}, got)
}

func TestOrchestrator_VerifiesEachURLOnce(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{
		{Path: "a.md", Content: "https://dup.example.com\nhttps://dup.example.com\nhttps://dup.example.com\n"},
	}}
	verifier := newFakeVerifier(map[string]bool{"https://dup.example.com": true})
	h := newHarness(src, verifier, &fakeSuggester{})

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Len(t, final.Reports, 3)
	for _, r := range final.Reports {
		require.True(t, r.OK, "cached verdict reused for every occurrence")
	}
	require.Equal(t, 1, verifier.callCount("https://dup.example.com"))
}

func TestOrchestrator_RejectsSecondActiveSession(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{{Path: "a.md", Content: "https://x.example.com\n"}}}
	verifier := newFakeVerifier(map[string]bool{"https://x.example.com": true})
	verifier.gate = make(chan struct{})
	h := newHarness(src, verifier, &fakeSuggester{})
	key := check.RepoKey{RepoURL: "https://github.com/acme/widgets", Branch: "main"}

	first, err := h.orch.Create(key)
	require.NoError(t, err)
	require.Equal(t, check.StatusProcessing, first.Status)

	_, err = h.orch.Create(key)
	require.ErrorIs(t, err, check.ErrAlreadyInProgress)

	// A different branch is a different repository key.
	_, err = h.orch.Create(check.RepoKey{RepoURL: key.RepoURL, Branch: "develop"})
	require.NoError(t, err)

	close(verifier.gate)
	waitTerminal(t, h.orch, first.ID)

	second, err := h.orch.Create(key)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestOrchestrator_CancelMidRun(t *testing.T) {
	t.Parallel()
	var content string
	for i := range 100 {
		content += fmt.Sprintf("https://example.com/page-%d\n", i)
	}
	ok := map[string]bool{}
	src := &fakeSource{files: []check.RepoFile{{Path: "big.md", Content: content}}}
	verifier := newFakeVerifier(ok)
	verifier.gate = make(chan struct{}) // never closed: all verifications block
	h := newHarness(src, verifier, &fakeSuggester{})
	key := check.RepoKey{RepoURL: "r", Branch: "main"}

	snap, err := h.orch.Create(key)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return verifier.started.Load() > 0 },
		2*time.Second, 5*time.Millisecond)

	h.orch.Cancel(key)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusFailed, final.Status)
	require.Equal(t, check.CancelledError, final.Error)
	require.Empty(t, final.Reports, "results gathered after the signal are discarded")

	// The key is free for a new run immediately.
	_, err = h.orch.Create(key)
	require.NoError(t, err)
}

func TestOrchestrator_CancelUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{}, newFakeVerifier(nil), &fakeSuggester{})
	h.orch.Cancel(check.RepoKey{RepoURL: "nobody", Branch: "home"})
}

func TestOrchestrator_PersistsFixedLinks(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{
		{Path: "a.md", Content: "http://broken.example.com/a\nhttps://fine.example.com\n"},
		{Path: "b.md", Content: "http://broken.example.com/b\n"},
	}}
	verifier := newFakeVerifier(map[string]bool{"https://fine.example.com": true})
	suggester := &fakeSuggester{fixes: map[string]string{
		"http://broken.example.com/a": "https://broken.example.com/a",
		"http://broken.example.com/b": "https://broken.example.com/b",
	}}
	h := newHarness(src, verifier, suggester)

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "https://github.com/acme/widgets", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusCompleted, final.Status)
	require.Len(t, h.store.repos, 1, "exactly one repository row per run")
	require.Equal(t, "https://github.com/acme/widgets", h.store.repos[0].RepoURL)
	require.Len(t, h.store.fixes[0], 2, "one row per fixed link")
	require.Equal(t, "http://broken.example.com/a", h.store.fixes[0][0].OldContent)
	require.Equal(t, "https://broken.example.com/a", h.store.fixes[0][0].NewContent)
	require.Equal(t, final.PRURL, "https://github.com/acme/widgets/pull/7")
}

func TestOrchestrator_FixesEveryLinkOnSharedLine(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{
		{Path: "a.md", Content: "see http://one.example.com/x and http://two.example.com/y\n"},
	}}
	verifier := newFakeVerifier(nil)
	suggester := &fakeSuggester{fixes: map[string]string{
		"http://one.example.com/x": "https://one.example.com/x",
		"http://two.example.com/y": "https://two.example.com/y",
	}}
	h := newHarness(src, verifier, suggester)

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusCompleted, final.Status)
	require.Len(t, h.store.fixes[0], 2, "one row per fixed link")

	first, second := h.store.fixes[0][0], h.store.fixes[0][1]
	require.Equal(t, "see http://one.example.com/x and http://two.example.com/y", first.OldContent)
	require.Equal(t, "see https://one.example.com/x and http://two.example.com/y", first.NewContent)
	require.Equal(t, first.NewContent, second.OldContent, "second change builds on the first")
	require.Equal(t, "see https://one.example.com/x and https://two.example.com/y", second.NewContent)
}

func TestOrchestrator_RepeatedURLOnOneLineFixedOnce(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{
		{Path: "a.md", Content: "http://dup.example.com and again http://dup.example.com\n"},
	}}
	verifier := newFakeVerifier(nil)
	suggester := &fakeSuggester{fixes: map[string]string{
		"http://dup.example.com": "https://dup.example.com",
	}}
	h := newHarness(src, verifier, suggester)

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusCompleted, final.Status)
	require.Len(t, h.store.fixes[0], 1, "both occurrences repaired by one change")
	require.Equal(t, "https://dup.example.com and again https://dup.example.com", h.store.fixes[0][0].NewContent)
}

func TestOrchestrator_PublishFailureDoesNotFailSession(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{{Path: "a.md", Content: "http://broken.example.com\n"}}}
	verifier := newFakeVerifier(nil)
	suggester := &fakeSuggester{fixes: map[string]string{"http://broken.example.com": "https://broken.example.com"}}
	h := newHarness(src, verifier, suggester)
	h.publisher.url = ""
	h.publisher.err = errors.New("remote rejected the push")

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusCompleted, final.Status)
	require.NotEmpty(t, final.Reports)
	require.Empty(t, final.PRURL)
	require.Contains(t, final.Error, "publish failed")
	require.NotContains(t, final.Error, "verification")
}

func TestOrchestrator_RepositoryUnavailableFailsSession(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: errors.New("branch not found")}
	h := newHarness(src, newFakeVerifier(nil), &fakeSuggester{})

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "ghost"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusFailed, final.Status)
	require.Contains(t, final.Error, "unavailable")
	require.Empty(t, final.Reports)
}

func TestOrchestrator_NoPublishWithoutFixes(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{{Path: "a.md", Content: "https://fine.example.com\n"}}}
	verifier := newFakeVerifier(map[string]bool{"https://fine.example.com": true})
	h := newHarness(src, verifier, &fakeSuggester{})

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "main"})
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, snap.ID)

	require.Equal(t, check.StatusCompleted, final.Status)
	require.Empty(t, h.publisher.calls)
	require.Len(t, h.store.repos, 1, "repository row is upserted even with no fixes")
}

func TestOrchestrator_EmitsCompletionEvent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{files: []check.RepoFile{
		{Path: "a.md", Content: "http://broken.example.com\nhttps://fine.example.com\n"},
	}}
	verifier := newFakeVerifier(map[string]bool{"https://fine.example.com": true})
	suggester := &fakeSuggester{fixes: map[string]string{"http://broken.example.com": "https://broken.example.com"}}
	h := newHarness(src, verifier, suggester)

	snap, err := h.orch.Create(check.RepoKey{RepoURL: "r", Branch: "main"})
	require.NoError(t, err)
	waitTerminal(t, h.orch, snap.ID)

	require.Eventually(t, func() bool {
		h.notifier.mu.Lock()
		defer h.notifier.mu.Unlock()
		return len(h.notifier.events) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.notifier.mu.Lock()
	event := h.notifier.events[0]
	h.notifier.mu.Unlock()
	require.Equal(t, snap.ID, event.SessionID)
	require.Equal(t, "completed", event.Status)
	require.Equal(t, 2, event.Checked)
	require.Equal(t, 1, event.Broken)
	require.Equal(t, 1, event.Fixed)
}

func TestOrchestrator_GetUnknownSession(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{}, newFakeVerifier(nil), &fakeSuggester{})
	_, err := h.orch.Get("missing")
	require.ErrorIs(t, err, check.ErrSessionNotFound)
}
