package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// GitHubAPIResolver resolves default branches through the GitHub REST API.
// Lookups are cached per owner/repo for the resolver's lifetime.
type GitHubAPIResolver struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewGitHubAPIResolver builds a resolver. baseURL defaults to the public API.
func NewGitHubAPIResolver(baseURL string, timeout time.Duration) *GitHubAPIResolver {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GitHubAPIResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[string]string),
	}
}

// DefaultBranch returns the repository's current default branch.
func (r *GitHubAPIResolver) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	key := owner + "/" + repo
	r.mu.Lock()
	if branch, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return branch, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s/%s", r.baseURL, owner, repo), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch repository metadata: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("repository metadata: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode repository metadata: %w", err)
	}

	r.mu.Lock()
	r.cache[key] = payload.DefaultBranch
	r.mu.Unlock()
	return payload.DefaultBranch, nil
}
