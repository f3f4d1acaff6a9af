package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-1, -1}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
}

func TestBLEU(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		candidate string
		want      float64
	}{
		{"identical", "the cat sat on the mat", "the cat sat on the mat", 1},
		{"no four-gram match is smoothed", "the cat is on the mat", "the cat sat on the mat", 0.2939},
		{"short candidate with brevity penalty", "a b c d e f", "a b", 0.03},
		{"no overlap", "fever and chills", "take two tablets", 0},
		{"empty candidate", "fever", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Round4(BLEU(tt.reference, tt.candidate)))
		})
	}
}

func TestBLEU_Bounds(t *testing.T) {
	cases := [][2]string{
		{"drink plenty of water and rest", "rest and drink water"},
		{"see a doctor", "see a doctor if the fever lasts more than three days"},
		{"x", "x"},
	}
	for _, c := range cases {
		got := BLEU(c[0], c[1])
		assert.False(t, math.IsNaN(got))
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.123456))
	assert.Equal(t, 0.0, Round4(0.00004))
}
