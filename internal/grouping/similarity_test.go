package grouping

import "testing"

func TestSlug(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Will BTC close above $100k?", "100k-above-btc-close"},
		{"BTC close above 100k", "100k-above-btc-close"},
		{"Above 100k: will BTC close?", "100k-above-btc-close"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := similarity("BTC above 100k by March", "BTC above 100k by March"); got != 100 {
		t.Errorf("identical titles = %d, want 100", got)
	}
	if got := similarity("BTC above 100k", "Fed cuts rates in June"); got != 0 {
		t.Errorf("disjoint titles = %d, want 0", got)
	}

	a, b := "Will BTC close above 100k in March", "BTC closes above 100k March 2025"
	if similarity(a, b) != similarity(b, a) {
		t.Error("similarity must be symmetric")
	}
	if similarity(a, b) < 70 {
		t.Errorf("near-duplicate titles scored %d, want >= 70", similarity(a, b))
	}

	if got := similarity("", "anything"); got != 0 {
		t.Errorf("empty title = %d, want 0", got)
	}
}

func TestEntitiesCompatible(t *testing.T) {
	trump := extractEntities("Will Trump win the 2024 election?")
	biden := extractEntities("Will Biden win the 2024 election?")
	if entitiesCompatible(trump, biden) {
		t.Error("different named entities must veto grouping")
	}

	trump2 := extractEntities("Trump wins 2024")
	if !entitiesCompatible(trump, trump2) {
		t.Error("shared entity must pass")
	}

	none := extractEntities("will it rain tomorrow")
	if !entitiesCompatible(trump, none) {
		t.Error("a side with no entities never vetoes")
	}
}
