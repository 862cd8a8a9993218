// Package textscore implements BM25 ranking over small in-memory document
// sets. The semantic and episodic stores both rank a bounded in-process
// result set (storage.QueryDocs already narrowed by collection) rather
// than an indexed full corpus, so a standalone scorer is simpler and more
// transparent than embedding a full-text search engine.
package textscore

import (
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// Tokenize lowercases and splits on non-alphanumeric runs, the same coarse
// tokenization used for code identifiers and prose alike.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

const (
	k1 = 1.2
	b  = 0.75
)

// Corpus holds precomputed per-document term frequencies for BM25 scoring
// against repeated queries without re-tokenizing documents each time.
type Corpus struct {
	docs   [][]string
	tf     []map[string]int
	df     map[string]int
	avgLen float64
}

// NewCorpus tokenizes and indexes docs (one token slice per document, in
// document order). Callers pass []string{name, signature, body} joined, or
// any other concatenation appropriate to what's being ranked.
func NewCorpus(docs []string) *Corpus {
	c := &Corpus{
		docs: make([][]string, len(docs)),
		tf:   make([]map[string]int, len(docs)),
		df:   make(map[string]int),
	}
	var totalLen int
	for i, d := range docs {
		tokens := Tokenize(d)
		c.docs[i] = tokens
		totalLen += len(tokens)
		freq := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freq[t]++
		}
		c.tf[i] = freq
		for t := range freq {
			c.df[t]++
		}
	}
	if len(docs) > 0 {
		c.avgLen = float64(totalLen) / float64(len(docs))
	}
	return c
}

// Score returns the BM25 score of document i against query, 0 for an empty
// corpus or query.
func (c *Corpus) Score(i int, query string) float64 {
	if i < 0 || i >= len(c.docs) {
		return 0
	}
	n := len(c.docs)
	docLen := float64(len(c.docs[i]))
	freq := c.tf[i]

	var score float64
	for _, term := range Tokenize(query) {
		df := c.df[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		f := float64(freq[term])
		denom := f + k1*(1-b+b*docLen/maxF(c.avgLen, 1))
		if denom == 0 {
			continue
		}
		score += idf * (f * (k1 + 1)) / denom
	}
	return score
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
