package model

import "fmt"

// Paper field limits. These bound what a single submission can push into
// the context store and the inference backend.
const (
	MaxPaperTitleLen = 500
	MaxPaperTextLen  = 1 << 20 // 1 MB
	MaxPapersPerRun  = 500
)

// Paper is one input document for a run. Papers are supplied at execute
// time and are not persisted beyond the agents' recorded metadata.
//
// A paper with empty Text cannot be analyzed; its micro agent is marked
// skipped rather than failed.
type Paper struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Venue   string   `json:"venue,omitempty"`
}

// Retrievable reports whether the paper has analyzable text.
func (p Paper) Retrievable() bool {
	return p.Text != ""
}

// ValidatePapers checks a submitted paper set for execute.
func ValidatePapers(papers []Paper) error {
	if len(papers) == 0 {
		return fmt.Errorf("papers list must not be empty")
	}
	if len(papers) > MaxPapersPerRun {
		return fmt.Errorf("too many papers: %d exceeds limit of %d", len(papers), MaxPapersPerRun)
	}
	for i, p := range papers {
		if p.Title == "" {
			return fmt.Errorf("papers[%d]: title is required", i)
		}
		if len(p.Title) > MaxPaperTitleLen {
			return fmt.Errorf("papers[%d]: title exceeds %d characters", i, MaxPaperTitleLen)
		}
		if len(p.Text) > MaxPaperTextLen {
			return fmt.Errorf("papers[%d]: text exceeds %d bytes", i, MaxPaperTextLen)
		}
	}
	return nil
}
