// Package clusterer groups items that report the same real-world event using
// cheap local signals: title trigram similarity, shared keywords, and shared
// named entities. No model calls are involved.
package clusterer

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords are common English words excluded from keyword and entity sets.
var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "again": true, "against": true,
	"all": true, "also": true, "amid": true, "an": true, "and": true,
	"are": true, "as": true, "at": true, "back": true, "be": true,
	"been": true, "before": true, "begin": true, "being": true, "between": true,
	"but": true, "by": true, "call": true, "calls": true, "can": true,
	"could": true, "day": true, "do": true, "does": true, "down": true,
	"first": true, "for": true, "from": true, "get": true, "gets": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"high": true, "his": true, "hit": true, "hits": true, "how": true,
	"if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "just": true, "latest": true, "like": true, "live": true,
	"low": true, "make": true, "makes": true, "many": true, "may": true,
	"more": true, "most": true, "much": true, "near": true, "new": true,
	"news": true, "no": true, "not": true, "now": true, "of": true,
	"off": true, "on": true, "one": true, "onto": true, "or": true,
	"out": true, "over": true, "report": true, "reports": true, "said": true,
	"say": true, "says": true, "see": true, "set": true, "she": true,
	"should": true, "since": true, "so": true, "some": true, "still": true,
	"take": true, "takes": true, "than": true, "that": true, "the": true,
	"their": true, "them": true, "then": true, "they": true, "this": true,
	"those": true, "three": true, "through": true, "to": true, "top": true,
	"two": true, "under": true, "up": true, "update": true, "us": true,
	"was": true, "we": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "who": true, "why": true,
	"will": true, "with": true, "would": true, "year": true, "years": true,
	"you": true, "your": true,
}

// Signature is the comparison key extracted from one item.
type Signature struct {
	Title    string
	Keywords []string
	Entities []string
}

// Extract builds the clustering signature for an item. Keywords draw on the
// title plus the feed excerpt; entities and the similarity title come from
// the title alone.
func Extract(title, excerpt string) Signature {
	return Signature{
		Title:    normalize(title),
		Keywords: Keywords(title + " " + excerpt),
		Entities: Entities(title),
	}
}

// normalize lowercases, maps punctuation to spaces and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Keywords returns the deduplicated, sorted keyword set of a text: tokens of
// three letters or more after the stoplist, plus bare numbers of two digits
// or more ("50" in a rate headline carries signal).
func Keywords(text string) []string {
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(normalize(text)) {
		if stopwords[tok] {
			continue
		}
		if len(tok) >= 3 || (len(tok) >= 2 && allDigits(tok)) {
			seen[tok] = true
		}
	}
	return sortedSet(seen)
}

// Entities returns capitalized phrases from the original title. Consecutive
// capitalized tokens merge into one entity ("European Central Bank"); a
// phrase counts only if at least one of its tokens is not sentence-initial,
// which discards a lone capitalized word opening the title. Capitalized
// stopwords and sentence boundaries break phrases without joining them.
// Phrases come back lowercased for set comparison.
func Entities(title string) []string {
	seen := make(map[string]bool)
	var run []string
	runQualifies := false

	flush := func() {
		if runQualifies && len(run) > 0 {
			phrase := strings.Join(run, " ")
			if len(phrase) >= 2 {
				seen[phrase] = true
			}
		}
		run = run[:0]
		runQualifies = false
	}

	sentenceStart := true
	for _, tok := range strings.Fields(title) {
		trimmed := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}

		first := []rune(trimmed)[0]
		lower := strings.ToLower(trimmed)
		if unicode.IsUpper(first) && !stopwords[lower] {
			run = append(run, lower)
			if !sentenceStart {
				runQualifies = true
			}
		} else {
			flush()
		}

		sentenceStart = endsSentence(tok)
		if sentenceStart {
			flush()
		}
	}
	flush()
	return sortedSet(seen)
}

// endsSentence reports whether the token's trailing punctuation closes a
// sentence, making the next token sentence-initial.
func endsSentence(tok string) bool {
	switch {
	case strings.HasSuffix(tok, "."), strings.HasSuffix(tok, "!"),
		strings.HasSuffix(tok, "?"), strings.HasSuffix(tok, ":"):
		return true
	}
	return false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Union merges two keyword or entity sets, deduplicated and sorted. Clusters
// grow their signature this way as members attach.
func Union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}
	return sortedSet(seen)
}
