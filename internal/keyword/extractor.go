// Package keyword finds known vocabulary terms in posting text.
package keyword

import (
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"jobwatch/internal/domain"
)

// DefaultVocabulary is used when the config does not name one.
var DefaultVocabulary = []domain.Keyword{
	"react", "vue", "angular", "javascript", "typescript",
	"python", "java", "node.js", "express", "fastapi",
	"django", "flask", "sql", "mongodb", "postgresql",
	"mysql", "redis", "aws", "azure", "gcp",
	"docker", "kubernetes", "git", "ci/cd", "agile", "scrum",
}

// Matcher maps text to the set of vocabulary terms it contains.
type Matcher interface {
	Extract(text string) []domain.Keyword
}

// Extractor is a substring matcher over a fixed vocabulary.
// The vocabulary can be swapped at runtime; Extract never blocks on it.
type Extractor struct {
	vocab atomic.Pointer[[]domain.Keyword]
}

func NewExtractor(vocab []string) *Extractor {
	e := &Extractor{}
	e.SetVocabulary(vocab)
	return e
}

// SetVocabulary normalizes, dedupes and installs vocab.
// An empty vocab falls back to DefaultVocabulary.
func (e *Extractor) SetVocabulary(vocab []string) {
	if len(vocab) == 0 {
		vocab = DefaultVocabulary
	}
	out := Normalize(vocab)
	e.vocab.Store(&out)
}

func (e *Extractor) Vocabulary() []domain.Keyword {
	v := e.vocab.Load()
	if v == nil {
		return nil
	}
	return append([]domain.Keyword(nil), (*v)...)
}

// Contains reports whether kw (after normalization) is in the vocabulary.
func (e *Extractor) Contains(kw string) bool {
	kw = Fold(kw)
	for _, v := range e.Vocabulary() {
		if v == kw {
			return true
		}
	}
	return false
}

// Extract returns every vocabulary term that occurs anywhere in text,
// case-insensitively, sorted. There is no word-boundary requirement, so
// "java" matches inside "javascript".
func (e *Extractor) Extract(text string) []domain.Keyword {
	v := e.vocab.Load()
	if v == nil || text == "" {
		return nil
	}
	hay := Fold(text)
	var out []domain.Keyword
	for _, term := range *v {
		if strings.Contains(hay, term) {
			out = append(out, term)
		}
	}
	return out
}

// Fold lowercases s after NFKC normalization so that full-width and
// compatibility forms compare equal to their plain spelling.
func Fold(s string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

// ParseTerms splits user input on commas and normalizes the pieces, so
// "python,django" and "python django" read the same.
func ParseTerms(args []string) []domain.Keyword {
	var raw []string
	for _, a := range args {
		raw = append(raw, strings.Split(a, ",")...)
	}
	return Normalize(raw)
}

// Normalize folds, trims and dedupes terms, dropping empties. The result is sorted.
func Normalize(terms []string) []domain.Keyword {
	seen := make(map[string]struct{}, len(terms))
	out := make([]domain.Keyword, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(Fold(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
