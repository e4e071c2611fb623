// Package check defines core types shared across the link checking pipeline.
package check

import "time"

// SessionStatus represents the lifecycle state of a check session.
type SessionStatus string

// Session status values. Transitions are monotonic:
// pending -> processing -> completed | failed.
const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RepoKey identifies a repository snapshot. It is the admission-control
// unit: at most one active session may exist per key.
type RepoKey struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

// RepoFile is one file of a repository snapshot.
type RepoFile struct {
	Path    string
	Content string
}

// RawLink is one absolute-URL occurrence located at a specific file and line.
type RawLink struct {
	FilePath    string `json:"file_path"`
	LineNumber  int    `json:"line_number"`
	LineContent string `json:"line_content"`
	URL         string `json:"url"`
}

// Verdict is the network reachability result for one distinct URL.
// FinalURL holds the terminus of a followed redirect chain, when one
// was observed, regardless of how the chain was classified.
type Verdict struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	FinalURL   string `json:"final_url,omitempty"`
}

// LinkReport is the per-occurrence outcome: the located link, the (possibly
// cached) verdict for its URL, and a replacement if one was found.
type LinkReport struct {
	RawLink
	StatusCode   int    `json:"status_code"`
	OK           bool   `json:"ok"`
	Message      string `json:"message,omitempty"`
	SuggestedURL string `json:"suggested_url,omitempty"`
}

// Fixed reports whether the link was broken and a working replacement exists.
func (r LinkReport) Fixed() bool {
	return !r.OK && r.SuggestedURL != ""
}

// FileChange is one line replacement handed to the Publisher.
type FileChange struct {
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
}

// TrackedRepository is the durable record of a checked repository.
type TrackedRepository struct {
	ID        int64     `json:"id"`
	RepoURL   string    `json:"repo_url"`
	Branch    string    `json:"branch"`
	CheckedAt time.Time `json:"checked_at"`
}

// Session is a snapshot of one check run. The orchestrator owns the live
// record; snapshots handed out are safe to retain.
type Session struct {
	ID       string        `json:"id"`
	Key      RepoKey       `json:"repository"`
	Status   SessionStatus `json:"status"`
	Reports  []LinkReport  `json:"reports,omitempty"`
	Error    string        `json:"error,omitempty"`
	PRURL    string        `json:"pr_url,omitempty"`
	Created  time.Time     `json:"created_at"`
	Started  time.Time     `json:"started_at,omitzero"`
	Finished time.Time     `json:"finished_at,omitzero"`
}
