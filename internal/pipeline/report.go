package pipeline

import (
	"fmt"
	"io"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

// Report is the outcome of one run. Every candidate lands in exactly one of
// the slices, in provider order.
type Report struct {
	RunID      string
	Topic      string
	Candidates int

	Denylisted []string
	Duplicates []string
	NotFound   []string
	Malformed  []string
	Rejected   []string
	Accepted   []models.Server
}

// AcceptedNames returns the "owner/name" of each accepted server.
func (r *Report) AcceptedNames() []string {
	out := make([]string, len(r.Accepted))
	for i, s := range r.Accepted {
		out[i] = s.Repo.FullName()
	}
	return out
}

func (r *Report) Print(w io.Writer) {
	if len(r.Accepted) == 0 {
		fmt.Fprintf(w, "No MCP servers found for topic %q\n", r.Topic)
	} else {
		fmt.Fprintf(w, "MCP servers for topic %q:\n\n", r.Topic)
		for i, s := range r.Accepted {
			fmt.Fprintf(w, "%d. %s", i+1, s.Repo.FullName())
			if s.SDKRange != "" {
				fmt.Fprintf(w, "  (sdk %s", s.SDKRange)
				if s.SDKOutdated {
					fmt.Fprint(w, ", outdated")
				}
				fmt.Fprint(w, ")")
			}
			fmt.Fprintln(w)
			if s.Repo.URL != "" {
				fmt.Fprintf(w, "   %s\n", s.Repo.URL)
			}
			switch {
			case s.Summary != nil:
				fmt.Fprintf(w, "   %s\n", *s.Summary)
			case s.Repo.Description != nil && *s.Repo.Description != "":
				fmt.Fprintf(w, "   %s\n", *s.Repo.Description)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Candidates: %d\n", r.Candidates)
	fmt.Fprintf(w, "Accepted:   %d\n", len(r.Accepted))
	fmt.Fprintf(w, "Rejected:   %d\n", len(r.Rejected))
	fmt.Fprintf(w, "Denylisted: %d\n", len(r.Denylisted))
	fmt.Fprintf(w, "No manifest: %d\n", len(r.NotFound))
	fmt.Fprintf(w, "Malformed:  %d\n", len(r.Malformed))
	if len(r.Duplicates) > 0 {
		fmt.Fprintf(w, "Duplicates: %d\n", len(r.Duplicates))
	}
	fmt.Fprintf(w, "Run: %s\n", r.RunID)
}
