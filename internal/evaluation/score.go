package evaluation

import (
	"math"
	"strings"
)

const (
	// maxOrder is the largest n-gram order scored by BLEU, with uniform weights.
	maxOrder = 4
	// smoothingK is the k constant of the exponential smoothing used for
	// n-gram orders without a match.
	smoothingK = 5
)

// Round4 rounds x to four decimal places.
func Round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// BLEU scores candidate against reference with whitespace tokenization.
func BLEU(reference, candidate string) float64 {
	return SentenceBLEU(strings.Fields(reference), strings.Fields(candidate))
}

// SentenceBLEU is sentence-level BLEU-4 with a brevity penalty. Orders
// with no clipped match are smoothed to 1/(2^i * k / ln(len(candidate))),
// i counting the smoothed orders from 1, so short answers do not collapse
// to zero. A candidate with no unigram match scores 0.
func SentenceBLEU(reference, candidate []string) float64 {
	hypLen := len(candidate)
	if hypLen == 0 {
		return 0
	}

	refCounts := make([]map[string]int, maxOrder+1)
	for n := 1; n <= maxOrder; n++ {
		refCounts[n] = ngrams(reference, n)
	}

	var logSum float64
	smoothed := 1
	for n := 1; n <= maxOrder; n++ {
		hyp := ngrams(candidate, n)
		matched, total := 0, 0
		for g, c := range hyp {
			total += c
			matched += min(c, refCounts[n][g])
		}
		denominator := float64(max(1, total))

		if n == 1 && matched == 0 {
			return 0
		}

		p := float64(matched) / denominator
		if matched == 0 {
			if hypLen < 2 {
				return 0
			}
			p = 1 / (math.Pow(2, float64(smoothed)) * smoothingK / math.Log(float64(hypLen))) / denominator
			smoothed++
		}
		logSum += math.Log(p) / maxOrder
	}
	return brevityPenalty(len(reference), hypLen) * math.Exp(logSum)
}

func brevityPenalty(refLen, hypLen int) float64 {
	if hypLen > refLen {
		return 1
	}
	return math.Exp(1 - float64(refLen)/float64(hypLen))
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return out
}
