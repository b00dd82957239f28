package github

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
	"github.com/kevinmichaelchen/mcp-discover/internal/schema"
)

// Source determines which endpoint serves repository file contents and how
// its payload is decoded.
//
// GitHub's contents API returns base64 inside a JSON envelope. Some mirrors
// expose a files-by-ref endpoint that returns the text directly. Sources
// encapsulate the difference so FetchFile does not care which one is in use.
type Source interface {
	// URL returns the request URL for path in repo. base is the client's
	// API root and always ends with a slash.
	URL(base *url.URL, repo models.RepositorySummary, path string) (string, error)
	// Decode validates a successful response body and returns the file text.
	Decode(body []byte) (string, error)
}

// ContentsSource reads GET /repos/{owner}/{repo}/contents/{path}?ref={branch}.
type ContentsSource struct{}

func (ContentsSource) URL(base *url.URL, repo models.RepositorySummary, path string) (string, error) {
	rel := fmt.Sprintf("repos/%s/%s/contents/%s",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), escapePath(path))
	u, err := base.Parse(rel)
	if err != nil {
		return "", err
	}
	if repo.DefaultBranch != "" {
		u.RawQuery = url.Values{"ref": {repo.DefaultBranch}}.Encode()
	}
	return u.String(), nil
}

func (ContentsSource) Decode(body []byte) (string, error) {
	return schema.ParseContentsFile(body)
}

// FilesSource reads GET /repos/{owner}/{repo}/files/{branch}/{path} from a
// mirror. When BaseURL is empty the client's API root is used.
type FilesSource struct {
	BaseURL string
}

func (s FilesSource) URL(base *url.URL, repo models.RepositorySummary, path string) (string, error) {
	if s.BaseURL != "" {
		u, err := parseBaseURL(s.BaseURL)
		if err != nil {
			return "", err
		}
		base = u
	}

	branch := repo.DefaultBranch
	if branch == "" {
		branch = "HEAD"
	}

	rel := fmt.Sprintf("repos/%s/%s/files/%s/%s",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(branch), escapePath(path))
	u, err := base.Parse(rel)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (FilesSource) Decode(body []byte) (string, error) {
	return schema.ParseRawFile(body)
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
