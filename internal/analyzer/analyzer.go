// Package analyzer turns raw text into normalized token sequences. The same
// Analyzer instance serves both the indexing path and the query path, so
// postings and query terms always agree on token boundaries.
//
// Latin-script text is lowercased and split on non-alphanumeric boundaries.
// Japanese text has no whitespace word boundaries, so it is first segmented
// into dictionary-backed morphemes before the same normalization is applied.
package analyzer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Analyzer produces normalized tokens from text. It is immutable after
// construction and safe for concurrent use.
type Analyzer struct {
	seg *tokenizer.Tokenizer
}

// New creates an Analyzer backed by the IPA morphological dictionary.
func New() (*Analyzer, error) {
	seg, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("load morphological dictionary: %w", err)
	}
	return &Analyzer{seg: seg}, nil
}

// Analyze tokenizes text into an ordered sequence of normalized tokens.
// Empty or whitespace-only input yields an empty sequence. Analyze never
// fails; malformed input simply produces fewer tokens.
func (a *Analyzer) Analyze(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	if containsJapanese(text) {
		return a.analyzeJapanese(text)
	}
	return splitWords(text)
}

func (a *Analyzer) analyzeJapanese(text string) []string {
	segments := a.seg.Wakati(text)
	tokens := make([]string, 0, len(segments))
	for _, seg := range segments {
		// Morphemes may still carry punctuation or embedded Latin
		// runs, so each segment goes through the same normalization
		// as plain text.
		tokens = append(tokens, splitWords(seg)...)
	}
	return tokens
}

// splitWords lowercases text and splits it on every rune that is neither a
// letter nor a digit.
func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsJapanese reports whether text contains Hiragana, Katakana, or CJK
// unified ideographs.
func containsJapanese(text string) bool {
	for _, r := range text {
		if (r >= 0x3040 && r <= 0x309F) ||
			(r >= 0x30A0 && r <= 0x30FF) ||
			(r >= 0x4E00 && r <= 0x9FFF) {
			return true
		}
	}
	return false
}
