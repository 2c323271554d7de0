// Package textindex turns verse text into index terms and accumulates the
// inverted index built during seeding.
package textindex

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// MinTokenLength is counted in runes.
const MinTokenLength = 2

// StopWords are never indexed. Changing this list changes the index, so
// seeding.CurrentSeedVersion must be bumped with it.
var StopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
	"had", "has", "have", "he", "her", "his", "i", "if", "in", "into", "is",
	"it", "its", "me", "my", "not", "of", "on", "or", "our", "shall", "she",
	"so", "that", "the", "their", "them", "then", "there", "they", "this",
	"to", "unto", "up", "upon", "us", "was", "we", "were", "which", "will",
	"with", "ye", "you", "your",
}

// apostropheFilter joins possessives and contractions ("Lord's" -> "Lords")
// before the tokenizer would split them.
type apostropheFilter struct{}

var apostropheReplacer = strings.NewReplacer("'", "", "’", "", "‘", "")

func (apostropheFilter) Filter(input []byte) []byte {
	return []byte(apostropheReplacer.Replace(string(input)))
}

var analyzer = newAnalyzer()

func newAnalyzer() *analysis.DefaultAnalyzer {
	stopWords := analysis.NewTokenMap()
	for _, w := range StopWords {
		stopWords.AddToken(w)
	}
	return &analysis.DefaultAnalyzer{
		CharFilters: []analysis.CharFilter{apostropheFilter{}},
		Tokenizer:   unicode.NewUnicodeTokenizer(),
		TokenFilters: []analysis.TokenFilter{
			lowercase.NewLowerCaseFilter(),
			length.NewLengthFilter(MinTokenLength, 0),
			stop.NewStopTokensFilter(stopWords),
		},
	}
}

// Tokenize returns the distinct index terms of text in order of first
// appearance.
func Tokenize(text string) []string {
	stream := analyzer.Analyze([]byte(text))
	seen := make(map[string]struct{}, len(stream))
	terms := make([]string, 0, len(stream))
	for _, token := range stream {
		term := string(token.Term)
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

// Normalize maps a single user-typed word onto the form it is indexed under.
// It returns "" for words that are never indexed.
func Normalize(word string) string {
	terms := Tokenize(word)
	if len(terms) != 1 {
		return ""
	}
	return terms[0]
}
