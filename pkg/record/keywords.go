package record

import (
	"sort"
	"strings"
	"unicode"
)

// minTokenLength drops single-character tokens except CJK ideographs.
const minTokenLength = 2

var stopWords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "shall", "can", "need", "to", "of", "in",
		"for", "on", "with", "at", "by", "from", "as", "into", "through",
		"during", "before", "after", "between", "out", "off", "over", "under",
		"then", "once", "and", "but", "or", "nor", "so", "yet", "both",
		"either", "neither", "each", "every", "all", "any", "few", "more",
		"most", "other", "some", "such", "only", "own", "same", "than", "too",
		"very", "just", "because", "if", "when", "where", "how", "what",
		"which", "who", "whom", "this", "that", "these", "those", "it", "its",
		"itself", "they", "them", "their", "we", "our", "you", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize splits text into lowercase letter/digit tokens and drops stop
// words and tokens shorter than two runes. Han characters become their own
// tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := make([]string, 0, len(text)/5)
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		current.Reset()
		if len([]rune(token)) < minTokenLength {
			return
		}
		if _, stop := stopWords[token]; stop {
			return
		}
		tokens = append(tokens, token)
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Keywords derives the sorted, de-duplicated keyword set of a payload. It is
// a pure function of the payload.
func Keywords(p Payload) []string {
	texts, tags := p.keywordSources()
	set := make(map[string]struct{})
	for _, t := range texts {
		for _, tok := range Tokenize(t) {
			set[tok] = struct{}{}
		}
	}
	for _, tag := range tags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			set[tag] = struct{}{}
		}
	}
	return sortedSet(set)
}

// NormalizeKeywords maps query terms onto stored keywords. Free text goes
// through Tokenize, so "Synaptic-Burst" queries both "synaptic" and
// "burst". Tag terms such as "low_confidence" are kept whole. A term that
// tokenizes to nothing is kept lower-cased so it still narrows the search.
// The result is sorted and de-duplicated.
func NormalizeKeywords(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if isTag(k) {
			set[k] = struct{}{}
			continue
		}
		tokens := Tokenize(k)
		if len(tokens) == 0 {
			set[k] = struct{}{}
			continue
		}
		for _, tok := range tokens {
			set[tok] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return sortedSet(set)
}

// isTag reports whether k has the shape of a derived tag: letters and
// digits joined by underscores.
func isTag(k string) bool {
	if !strings.Contains(k, "_") {
		return false
	}
	for _, r := range k {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
