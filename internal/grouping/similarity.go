package grouping

import (
	"regexp"
	"sort"
	"strings"
)

var (
	entityRE = regexp.MustCompile(`(?i)\b(Trump|Biden|Harris|Donald Trump|Joe Biden|BTC|ETH)\b`)
	tickerRE = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	tokenRE  = regexp.MustCompile(`[a-z0-9]+`)
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "by": true, "for": true, "in": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "will": true,
}

// extractEntities pulls named entities and ticker-like tokens from free text.
// Entity overlap is a cheap negative filter before fuzzy scoring.
func extractEntities(text string) map[string]bool {
	ents := make(map[string]bool)
	for _, m := range entityRE.FindAllString(text, -1) {
		ents[strings.ToLower(m)] = true
	}
	for _, m := range tickerRE.FindAllString(text, -1) {
		ents[strings.ToLower(m)] = true
	}
	return ents
}

// tokens lowercases and splits a title into sorted content words.
func tokens(title string) []string {
	raw := tokenRE.FindAllString(strings.ToLower(title), -1)
	out := raw[:0]
	for _, t := range raw {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Slug returns a stable normalized form of a market title, used as the base
// of a group key. Titles differing only in word order, case, punctuation, or
// stopwords slug identically.
func Slug(title string) string {
	return strings.Join(tokens(title), "-")
}

// similarity scores two titles in [0,100] as a Sørensen–Dice coefficient over
// their content-word sets.
func similarity(a, b string) int {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}
	setB := make(map[string]bool, len(tb))
	for _, t := range tb {
		setB[t] = true
	}
	var common int
	for t := range setA {
		if setB[t] {
			common++
		}
	}
	return 200 * common / (len(setA) + len(setB))
}

// entitiesCompatible reports whether two entity sets permit grouping. Markets
// that both name entities must share at least one; an empty side never vetoes.
func entitiesCompatible(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for e := range a {
		if b[e] {
			return true
		}
	}
	return false
}
