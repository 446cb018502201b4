package retrieval

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// LexicalScorer scores documents against a query with Okapi BM25.
type LexicalScorer struct {
	K1 float64
	B  float64
}

func NewLexicalScorer() LexicalScorer { return LexicalScorer{K1: DefaultK1, B: DefaultB} }

// Score returns one BM25 score per document, in input order. IDF is computed
// over docs only.
func (s LexicalScorer) Score(query string, docs []string) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 {
		return scores
	}
	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return scores
	}

	tfs := make([]map[string]int, len(docs))
	lens := make([]float64, len(docs))
	total := 0.0
	for i, d := range docs {
		toks := Tokenize(d)
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		tfs[i] = tf
		lens[i] = float64(len(toks))
		total += lens[i]
	}
	avgdl := total / float64(len(docs))
	if avgdl == 0 {
		return scores
	}

	n := float64(len(docs))
	for _, term := range terms {
		df := 0.0
		for _, tf := range tfs {
			if tf[term] > 0 {
				df++
			}
		}
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for i, tf := range tfs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			scores[i] += idf * f * (s.K1 + 1) / (f + s.K1*(1-s.B+s.B*lens[i]/avgdl))
		}
	}
	return scores
}

// Tokenize lowercases text, turns every non-alphanumeric rune into a space
// and drops tokens of one character.
func Tokenize(text string) []string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	fields := strings.Fields(clean)
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func uniqueTerms(toks []string) []string {
	seen := make(map[string]struct{}, len(toks))
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
