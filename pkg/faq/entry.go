package faq

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIndexUnavailable is returned by queries against an index that has
// never been loaded.
var ErrIndexUnavailable = errors.New("faq index not loaded")

// Entry is a pre-authored question and answer.
type Entry struct {
	ID       string   `yaml:"id" json:"id"`
	Question string   `yaml:"question" json:"question"`
	Answer   string   `yaml:"answer" json:"answer"`
	Category string   `yaml:"category,omitempty" json:"category,omitempty"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Priority int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

func (e Entry) clone() Entry {
	e.Keywords = append([]string(nil), e.Keywords...)
	e.Tags = append([]string(nil), e.Tags...)
	return e
}

// Stage identifies which matching stage produced a score.
type Stage string

const (
	StageExact   Stage = "exact"
	StageKeyword Stage = "keyword"
	StageFuzzy   Stage = "fuzzy"
)

// Match is one scored entry.
type Match struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
	Stage Stage   `json:"stage"`
}

// Exact reports whether the match came from the exact stage.
func (m Match) Exact() bool {
	return m.Stage == StageExact
}

// Result holds the ranked candidates for a query and the subset that
// cleared the acceptance threshold.
type Result struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
	Ranked    []Match `json:"ranked"`
	Accepted  []Match `json:"accepted"`
}

// Best returns the top accepted match, if any.
func (r *Result) Best() (Match, bool) {
	if r == nil || len(r.Accepted) == 0 {
		return Match{}, false
	}
	return r.Accepted[0], true
}

// validateEntries checks a batch before it replaces the index.
func validateEntries(entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return fmt.Errorf("faq entry %d: missing id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("faq entry %q: duplicate id", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(e.Question) == "" {
			return fmt.Errorf("faq entry %q: missing question", id)
		}
		if strings.TrimSpace(e.Answer) == "" {
			return fmt.Errorf("faq entry %q: missing answer", id)
		}
	}
	return nil
}
