// Package memory provides an in-memory result store for development and
// testing.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/linkmend/linkmend/internal/check"
)

// Run is one persisted check run.
type Run struct {
	ID    int64
	Repo  check.TrackedRepository
	Fixes []check.FileChange
}

// Store implements check.ResultStore without a database. Re-checking the
// same repository and branch overwrites the earlier run, matching the
// Postgres upsert.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	runs   map[check.RepoKey]Run
}

// New constructs an empty Store.
func New() *Store {
	return &Store{runs: make(map[check.RepoKey]Run)}
}

// SaveRun records the run, replacing any earlier run for the same key.
func (s *Store) SaveRun(_ context.Context, repo check.TrackedRepository, fixes []check.FileChange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := check.RepoKey{RepoURL: repo.RepoURL, Branch: repo.Branch}
	run, ok := s.runs[key]
	if !ok {
		s.nextID++
		run.ID = s.nextID
	}
	run.Repo = repo
	run.Fixes = slices.Clone(fixes)
	s.runs[key] = run
	return run.ID, nil
}

// Run returns the stored run for the key, if any.
func (s *Store) Run(key check.RepoKey) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[key]
	if !ok {
		return Run{}, false
	}
	run.Fixes = slices.Clone(run.Fixes)
	return run, true
}

// Close is a no-op.
func (s *Store) Close() {}
