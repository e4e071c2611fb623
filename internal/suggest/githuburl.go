package suggest

import (
	"fmt"
	"regexp"
)

var githubURLPattern = regexp.MustCompile(
	`^https?://(?:www\.)?github\.com/([^/]+)/([^/]+)(?:/(tree|blob)/([^/]+)(?:/(.+))?)?$`,
)

// GitHubURL is a parsed repository-hosted path URL.
type GitHubURL struct {
	Owner    string
	Repo     string
	Kind     string // "tree" or "blob", empty for bare repo URLs
	Branch   string
	FilePath string
}

// ParseGitHubURL parses owner/repo/tree|blob/branch/path URLs on github.com.
func ParseGitHubURL(raw string) (GitHubURL, bool) {
	m := githubURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return GitHubURL{}, false
	}
	return GitHubURL{
		Owner:    m[1],
		Repo:     m[2],
		Kind:     m[3],
		Branch:   m[4],
		FilePath: m[5],
	}, true
}

// WithBranch rebuilds the URL pointing at a different branch.
func (u GitHubURL) WithBranch(branch string) string {
	base := fmt.Sprintf("https://github.com/%s/%s", u.Owner, u.Repo)
	if u.Kind == "" {
		return base
	}
	if u.FilePath == "" {
		return fmt.Sprintf("%s/%s/%s", base, u.Kind, branch)
	}
	return fmt.Sprintf("%s/%s/%s/%s", base, u.Kind, branch, u.FilePath)
}
