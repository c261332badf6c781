package topics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Labeler names clusters after the most characteristic terms in their
// member titles.
type Labeler struct {
	tokenizer analysis.Tokenizer
	lowercase analysis.TokenFilter
	stop      analysis.TokenFilter
	terms     int
}

// NewLabeler builds a labeler that keeps the top terms per cluster label.
func NewLabeler(terms int) (*Labeler, error) {
	if terms <= 0 {
		terms = 3
	}
	stopWords := analysis.NewTokenMap()
	if err := stopWords.LoadBytes(en.EnglishStopWords); err != nil {
		return nil, fmt.Errorf("load stop words: %w", err)
	}
	return &Labeler{
		tokenizer: bleveunicode.NewUnicodeTokenizer(),
		lowercase: lowercase.NewLowerCaseFilter(),
		stop:      stop.NewStopTokensFilter(stopWords),
		terms:     terms,
	}, nil
}

// Label scores every term across the member titles with TF-IDF and joins
// the top ones. Ties break lexically so reruns over the same titles produce
// the same label. Falls back to "Cluster {ordinal}" when the titles yield
// no usable terms.
func (l *Labeler) Label(ordinal int, titles []string) string {
	tf := make(map[string]int)
	df := make(map[string]int)
	docs := 0
	for _, title := range titles {
		terms := l.tokenize(title)
		if len(terms) == 0 {
			continue
		}
		docs++
		seen := make(map[string]bool)
		for _, term := range terms {
			tf[term]++
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}
	if len(tf) == 0 {
		return fmt.Sprintf("Cluster %d", ordinal)
	}

	type scoredTerm struct {
		term  string
		score float64
	}
	ranked := make([]scoredTerm, 0, len(tf))
	for term, freq := range tf {
		idf := math.Log(float64(1+docs)/float64(1+df[term])) + 1
		ranked = append(ranked, scoredTerm{term: term, score: float64(freq) * idf})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].term < ranked[j].term
	})
	if len(ranked) > l.terms {
		ranked = ranked[:l.terms]
	}

	parts := make([]string, len(ranked))
	for i, s := range ranked {
		parts[i] = s.term
	}
	return strings.Join(parts, " + ")
}

// tokenize runs a title through the analysis chain and drops terms too
// short or too numeric to label anything.
func (l *Labeler) tokenize(title string) []string {
	stream := l.tokenizer.Tokenize([]byte(title))
	stream = l.lowercase.Filter(stream)
	stream = l.stop.Filter(stream)

	var out []string
	for _, token := range stream {
		term := string(token.Term)
		if len([]rune(term)) < 2 || isNumeric(term) {
			continue
		}
		out = append(out, term)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
