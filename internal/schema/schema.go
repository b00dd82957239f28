// Package schema validates raw GitHub API payloads and narrows them to the
// types the pipeline works with. Every function is pure: it returns either a
// typed value or a *ValidationError listing what was wrong.
package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

// Issue is one problem found at a JSON path.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

type ValidationError struct {
	Subject string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(parts, "; "))
}

// SearchPage is a validated search envelope. Items stay raw so that a bad
// item can be skipped without discarding the page.
type SearchPage struct {
	TotalCount        int64
	IncompleteResults bool
	Items             []json.RawMessage
}

func ParseSearchPage(data []byte) (*SearchPage, error) {
	v := newValidator("search response")
	obj := v.object("", data)
	if obj == nil {
		return nil, v.err()
	}

	page := &SearchPage{
		TotalCount:        v.integer(obj, "total_count"),
		IncompleteResults: v.boolean(obj, "incomplete_results"),
	}
	if raw, ok := v.field(obj, "items"); ok {
		if isNull(raw) || json.Unmarshal(raw, &page.Items) != nil {
			v.add("items", "must be an array")
		}
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return page, nil
}

// ParseRepository validates one search item and projects it to a
// RepositorySummary.
func ParseRepository(raw json.RawMessage) (models.RepositorySummary, error) {
	v := newValidator("repository")
	obj := v.object("", raw)
	if obj == nil {
		return models.RepositorySummary{}, v.err()
	}

	repo := models.RepositorySummary{
		ID:            v.integer(obj, "id"),
		Name:          v.str(obj, "name", true),
		Description:   v.nullableStr(obj, "description"),
		URL:           v.str(obj, "html_url", false),
		DefaultBranch: v.str(obj, "default_branch", false),
	}

	if ownerRaw, ok := v.field(obj, "owner"); ok {
		owner := v.object("owner", ownerRaw)
		if owner != nil {
			v.prefix = "owner."
			repo.Owner = v.str(owner, "login", true)
			v.prefix = ""
		}
	}

	if err := v.err(); err != nil {
		return models.RepositorySummary{}, err
	}
	return repo, nil
}

// ParseContentsFile validates a contents-API file response and returns the
// decoded UTF-8 text.
func ParseContentsFile(data []byte) (string, error) {
	v := newValidator("file contents")
	obj := v.object("", data)
	if obj == nil {
		return "", v.err()
	}

	encoding := v.str(obj, "encoding", false)
	content := v.str(obj, "content", true)
	if err := v.err(); err != nil {
		return "", err
	}
	if encoding != "base64" {
		v.add("encoding", fmt.Sprintf("must be \"base64\", got %q", encoding))
		return "", v.err()
	}

	// GitHub wraps the payload at 60 columns.
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, content)

	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		v.add("content", "not valid base64: "+err.Error())
		return "", v.err()
	}
	if !utf8.Valid(decoded) {
		v.add("content", "decoded payload is not UTF-8")
		return "", v.err()
	}
	return string(decoded), nil
}

// ParseRawFile validates a files-by-ref mirror response. The mirror returns
// text, so no decoding is needed.
func ParseRawFile(data []byte) (string, error) {
	v := newValidator("file")
	obj := v.object("", data)
	if obj == nil {
		return "", v.err()
	}

	if metaRaw, ok := v.field(obj, "meta"); ok {
		if meta := v.object("meta", metaRaw); meta != nil {
			v.prefix = "meta."
			v.str(meta, "url", false)
			v.prefix = ""
		}
	}

	var contents string
	if fileRaw, ok := v.field(obj, "file"); ok {
		if file := v.object("file", fileRaw); file != nil {
			v.prefix = "file."
			contents = v.str(file, "contents", false)
			v.prefix = ""
		}
	}

	if err := v.err(); err != nil {
		return "", err
	}
	return contents, nil
}

// --- internal ---

type validator struct {
	subject string
	prefix  string
	issues  []Issue
}

func newValidator(subject string) *validator {
	return &validator{subject: subject}
}

func (v *validator) add(path, msg string) {
	v.issues = append(v.issues, Issue{Path: path, Message: msg})
}

func (v *validator) err() error {
	if len(v.issues) == 0 {
		return nil
	}
	return &ValidationError{Subject: v.subject, Issues: v.issues}
}

func (v *validator) object(path string, raw []byte) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		v.add(path, "must be an object")
		return nil
	}
	return obj
}

func (v *validator) field(obj map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := obj[name]
	if !ok {
		v.add(v.prefix+name, "is required")
		return nil, false
	}
	return raw, true
}

func (v *validator) integer(obj map[string]json.RawMessage, name string) int64 {
	raw, ok := v.field(obj, name)
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil || isNull(raw) {
		v.add(v.prefix+name, "must be an integer")
		return 0
	}
	return n
}

func (v *validator) boolean(obj map[string]json.RawMessage, name string) bool {
	raw, ok := v.field(obj, name)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil || isNull(raw) {
		v.add(v.prefix+name, "must be a boolean")
		return false
	}
	return b
}

func (v *validator) str(obj map[string]json.RawMessage, name string, nonEmpty bool) string {
	raw, ok := v.field(obj, name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || isNull(raw) {
		v.add(v.prefix+name, "must be a string")
		return ""
	}
	if nonEmpty && s == "" {
		v.add(v.prefix+name, "must not be empty")
	}
	return s
}

func (v *validator) nullableStr(obj map[string]json.RawMessage, name string) *string {
	raw, ok := v.field(obj, name)
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		v.add(v.prefix+name, "must be a string or null")
		return nil
	}
	return &s
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
