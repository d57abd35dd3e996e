package similarity

import "github.com/xrash/smetrics"

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0,1] using
// the conventional 0.7 boost threshold and a four character prefix. Two
// empty strings are not considered similar.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}
