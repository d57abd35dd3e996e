package similarity

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

var fullRecord = Record{
	Headline:    "Acme Corp reports 20% profit growth in Q3",
	Summary:     "Acme Corp posted revenue of 1,200 crore, up 20% year on year.",
	CompanyName: "Acme Corp",
	Ticker:      "ACME",
}

func TestIdenticalRecordsScoreOne(t *testing.T) {
	bd := Combined(fullRecord, fullRecord)
	if !approx(bd.Score, 1.0) {
		t.Fatalf("identical score = %f, want 1.0 (breakdown %+v)", bd.Score, bd)
	}
	dup, score := IsDuplicate(fullRecord, fullRecord, DefaultThreshold)
	if !dup {
		t.Errorf("identical records not duplicate (score %f)", score)
	}
}

func TestDisjointRecordsScoreZero(t *testing.T) {
	a := Record{Headline: "xyz", Summary: "alpha beta gamma", CompanyName: "Foo", Ticker: "FOO"}
	b := Record{Headline: "qqq", Summary: "delta epsilon", CompanyName: "Bar", Ticker: "BAR"}
	bd := Combined(a, b)
	if bd.Score != 0 {
		t.Errorf("disjoint score = %f, want 0 (breakdown %+v)", bd.Score, bd)
	}
}

func TestIsDuplicateSymmetric(t *testing.T) {
	pairs := [][2]Record{
		{fullRecord, {Headline: "Acme reports profit growth", Summary: "Revenue up 20%"}},
		{{Headline: "abcabd", Summary: "one two"}, {Headline: "abdabc", Summary: "two three"}},
		{{Headline: "Markets slide as rates rise"}, {Headline: "Rates rise, markets slide"}},
		{{Ticker: "INFY", Summary: "results"}, {Ticker: "infy", Summary: "quarterly results"}},
	}
	for i, p := range pairs {
		for _, th := range []float64{0.1, 0.3, DefaultThreshold, 0.9} {
			d1, s1 := IsDuplicate(p[0], p[1], th)
			d2, s2 := IsDuplicate(p[1], p[0], th)
			if d1 != d2 || !approx(s1, s2) {
				t.Errorf("pair %d threshold %.2f: (%v,%f) vs (%v,%f)", i, th, d1, s1, d2, s2)
			}
		}
	}
}

func TestHeadlineSimilarity(t *testing.T) {
	if got := HeadlineSimilarity("", "anything"); got != 0 {
		t.Errorf("empty headline = %f, want 0", got)
	}
	if got := HeadlineSimilarity("  Hello   WORLD ", "hello world"); !approx(got, 1) {
		t.Errorf("normalized headline = %f, want 1", got)
	}
	got := HeadlineSimilarity("abcd", "abce")
	if !approx(got, 0.75) {
		t.Errorf("abcd/abce = %f, want 0.75", got)
	}
}

func TestContentSimilarity(t *testing.T) {
	// stop words are removed before comparison
	if got := ContentSimilarity("the and of", "profit up"); got != 0 {
		t.Errorf("stop-word-only summary = %f, want 0", got)
	}
	got := ContentSimilarity("Profit rose sharply", "profit rose slowly")
	// {profit, rose} / {profit, rose, sharply, slowly}
	if !approx(got, 0.5) {
		t.Errorf("content = %f, want 0.5", got)
	}
}

func TestExtractNumbers(t *testing.T) {
	got := ExtractNumbers("Revenue grew by 1,200 crore to 15.5%")
	if len(got) != 2 {
		t.Fatalf("got %v, want {1200, 15.5}", got)
	}
	for _, want := range []string{"1200", "15.5"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	if got := ExtractNumbers("Hello, world"); len(got) != 0 {
		t.Errorf("text without digits yielded %v", got)
	}
}

func TestEntitySimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b Record
		want float64
	}{
		{"no checks apply", Record{Headline: "a"}, Record{Headline: "b"}, 0},
		{"company case-insensitive", Record{CompanyName: "ACME"}, Record{CompanyName: "acme"}, 1},
		{"company and ticker one match", Record{CompanyName: "Acme", Ticker: "AC"}, Record{CompanyName: "acme", Ticker: "XY"}, 0.5},
		{"number overlap", Record{Summary: "10 and 20"}, Record{Summary: "10 only"}, 0.5},
		{"company only on one side", Record{CompanyName: "Acme", Summary: "5"}, Record{Summary: "5"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntitySimilarity(tt.a, tt.b); !approx(got, tt.want) {
				t.Errorf("EntitySimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCombinedWeights(t *testing.T) {
	a := Record{Headline: "same headline", Summary: "alpha", CompanyName: "X"}
	b := Record{Headline: "same headline", Summary: "beta", CompanyName: "X"}
	bd := Combined(a, b)
	if !approx(bd.Score, 0.4*1+0.4*0+0.2*1) {
		t.Errorf("score = %f, breakdown %+v", bd.Score, bd)
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	a := Record{Headline: "same headline", Summary: "alpha"}
	b := Record{Headline: "same headline", Summary: "beta"}
	dup, score := IsDuplicate(a, b, 0.4)
	if !dup {
		t.Errorf("score %f should meet threshold 0.4", score)
	}
}

func TestJaroWinkler(t *testing.T) {
	if got := JaroWinkler("", "x"); got != 0 {
		t.Errorf("empty = %f", got)
	}
	if got := JaroWinkler("infosys", "infosys"); !approx(got, 1) {
		t.Errorf("identical = %f", got)
	}
	if got := JaroWinkler("infosys", "infosy"); got <= 0.8 {
		t.Errorf("near match = %f, want > 0.8", got)
	}
	if got := JaroWinkler("reliance", "tcs"); got > 0.8 {
		t.Errorf("unrelated = %f, want <= 0.8", got)
	}
}
