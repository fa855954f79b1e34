// Package faq implements the in-memory FAQ index.
//
// The index is an immutable snapshot behind an atomic pointer. Load builds a
// complete new snapshot and swaps it in, so a query observes either the old
// batch or the new one, never a mix.
package faq

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/textutil"
)

const (
	DefaultAcceptanceThreshold = 0.85
	DefaultMinKeywordOverlap   = 2
)

// nonExactCeiling caps keyword and fuzzy scores so that 1.0 stays reserved
// for exact matches.
var nonExactCeiling = math.Nextafter(1.0, 0)

// Index maps free-text queries to FAQ entries.
type Index struct {
	snap              atomic.Pointer[snapshot]
	threshold         float64
	minKeywordOverlap int
	log               logger.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithAcceptanceThreshold sets the minimum score for an accepted match.
func WithAcceptanceThreshold(threshold float64) Option {
	return func(i *Index) {
		i.threshold = threshold
	}
}

// WithMinKeywordOverlap sets how many query tokens must be shared with an
// entry's keywords before the entry is scored at all.
func WithMinKeywordOverlap(n int) Option {
	return func(i *Index) {
		i.minKeywordOverlap = n
	}
}

// WithLogger sets the index logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Index) {
		i.log = l
	}
}

// NewIndex creates an empty, unloaded index.
func NewIndex(opts ...Option) *Index {
	i := &Index{
		threshold:         DefaultAcceptanceThreshold,
		minKeywordOverlap: DefaultMinKeywordOverlap,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logger.Discard()
	}
	i.log = i.log.With("component", "faq")
	return i
}

type compiledEntry struct {
	entry    Entry
	question string
	// questionLen is the rune length of question.
	questionLen int
	keywords    map[string]struct{}
}

type snapshot struct {
	entries  []compiledEntry
	exact    map[string]int
	loadedAt time.Time
}

// Load replaces the whole index with entries. The batch is validated first;
// on error the previous snapshot stays in place.
func (i *Index) Load(entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}

	snap := &snapshot{
		entries:  make([]compiledEntry, 0, len(entries)),
		exact:    make(map[string]int, len(entries)),
		loadedAt: time.Now().UTC(),
	}
	for _, e := range entries {
		question := textutil.Normalize(e.Question)
		ce := compiledEntry{
			entry:       e.clone(),
			question:    question,
			questionLen: utf8.RuneCountInString(question),
			keywords:    make(map[string]struct{}),
		}
		for _, kw := range e.Keywords {
			for tok := range textutil.TokenSet(textutil.Normalize(kw)) {
				ce.keywords[tok] = struct{}{}
			}
		}
		if _, taken := snap.exact[ce.question]; !taken {
			snap.exact[ce.question] = len(snap.entries)
		}
		snap.entries = append(snap.entries, ce)
	}

	i.snap.Store(snap)
	i.log.Info("FAQ index loaded", "entries", len(entries))
	return nil
}

// Reload fetches a fresh batch from src and swaps it in.
func (i *Index) Reload(ctx context.Context, src Source) error {
	entries, err := src.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read faq source: %w", err)
	}
	return i.Load(entries)
}

// Loaded reports whether a snapshot is in place.
func (i *Index) Loaded() bool {
	return i.snap.Load() != nil
}

// Len returns the number of entries in the current snapshot.
func (i *Index) Len() int {
	snap := i.snap.Load()
	if snap == nil {
		return 0
	}
	return len(snap.entries)
}

// Threshold returns the acceptance threshold.
func (i *Index) Threshold() float64 {
	return i.threshold
}

// Search scores query against every entry, optionally restricted to a
// category. Matching runs exact, keyword, then fuzzy; an exact hit
// short-circuits the rest. Ties keep insertion order.
func (i *Index) Search(query string, category string) (*Result, error) {
	snap := i.snap.Load()
	if snap == nil {
		return nil, ErrIndexUnavailable
	}

	normalized := textutil.Normalize(query)
	result := &Result{Query: normalized, Threshold: i.threshold}
	if normalized == "" {
		return result, nil
	}

	if idx, ok := snap.exact[normalized]; ok && categoryMatches(snap.entries[idx].entry, category) {
		m := Match{Entry: snap.entries[idx].entry.clone(), Score: 1.0, Stage: StageExact}
		result.Ranked = []Match{m}
		result.Accepted = []Match{m}
		return result, nil
	}

	q := searchQuery{text: normalized, runes: utf8.RuneCountInString(normalized), tokens: textutil.TokenSet(normalized)}
	for _, ce := range snap.entries {
		if !categoryMatches(ce.entry, category) {
			continue
		}
		m, ok := i.score(ce, q)
		if !ok {
			continue
		}
		result.Ranked = append(result.Ranked, m)
	}

	sort.SliceStable(result.Ranked, func(a, b int) bool {
		return result.Ranked[a].Score > result.Ranked[b].Score
	})
	for _, m := range result.Ranked {
		if m.Score >= i.threshold {
			result.Accepted = append(result.Accepted, m)
		}
	}
	return result, nil
}

// searchQuery is a normalized query with its precomputed forms.
type searchQuery struct {
	text   string
	runes  int
	tokens map[string]struct{}
}

func (i *Index) score(ce compiledEntry, q searchQuery) (Match, bool) {
	keywordScore, shared := jaccard(q.tokens, ce.keywords)
	if len(ce.keywords) > 0 && shared < min(i.minKeywordOverlap, len(ce.keywords)) {
		return Match{}, false
	}

	// The fuzzy stage can only win when its best case beats the keyword score.
	fuzzyScore := 0.0
	if similarityBound(q.runes, ce.questionLen) > keywordScore {
		fuzzyScore = similarity(q.text, ce.question, q.runes, ce.questionLen)
	}

	m := Match{Entry: ce.entry, Stage: StageKeyword, Score: keywordScore}
	if fuzzyScore > keywordScore {
		m.Stage = StageFuzzy
		m.Score = fuzzyScore
	}
	if m.Score <= 0 {
		return Match{}, false
	}
	m.Score = math.Min(m.Score, nonExactCeiling)
	m.Entry = m.Entry.clone()
	return m, true
}

// Suggestions returns up to limit entries ordered by priority, then
// insertion order.
func (i *Index) Suggestions(limit int) ([]Entry, error) {
	snap := i.snap.Load()
	if snap == nil {
		return nil, ErrIndexUnavailable
	}
	out := make([]Entry, 0, len(snap.entries))
	for _, ce := range snap.entries {
		out = append(out, ce.entry.clone())
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Priority > out[b].Priority
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func categoryMatches(e Entry, category string) bool {
	category = strings.TrimSpace(category)
	return category == "" || strings.EqualFold(e.Category, category)
}
