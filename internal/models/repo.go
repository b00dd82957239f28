package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RepositorySummary is the projection of a search item the pipeline keeps.
type RepositorySummary struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Owner         string  `json:"owner"`
	Description   *string `json:"description"`
	URL           string  `json:"html_url"`
	DefaultBranch string  `json:"default_branch"`
}

// FullName returns the "owner/name" path used as the denylist key.
func (r RepositorySummary) FullName() string {
	return r.Owner + "/" + r.Name
}

var ErrInvalidRepoPath = errors.New("invalid repository path")

// RejectionRecord is one row of the denylist.
type RejectionRecord struct {
	RepoPath    string    `json:"repo_path"`
	LastChecked time.Time `json:"last_checked"`
}

func (r RejectionRecord) Validate() error {
	_, _, err := SplitRepoPath(r.RepoPath)
	return err
}

// SplitRepoPath splits "owner/name" into its two non-empty halves.
func SplitRepoPath(path string) (owner, name string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoPath, path)
	}
	return parts[0], parts[1], nil
}

// Server is a repository accepted by the classifier.
type Server struct {
	Repo        RepositorySummary `json:"repo"`
	SDKRange    string            `json:"sdk_range"`
	SDKOutdated bool              `json:"sdk_outdated"`
	Summary     *string           `json:"summary"`
}

type SummaryResult struct {
	Summary string `json:"summary"`
}
