package fixedpoint

import "testing"

func TestLog2FxExactPowersOfTwo(t *testing.T) {
	for k := 0; k <= 62; k++ {
		v := uint64(1) << uint(k)

		got := Log2Fx(v)
		want := int64(k) << FracBits

		if got != want {
			t.Fatalf("Log2Fx(2^%d) = %d, want %d", k, got, want)
		}
	}
}

func TestLog2FxMonotonic(t *testing.T) {
	prev := Log2Fx(1)
	for v := uint64(2); v < 1<<20; v *= 3 {
		got := Log2Fx(v)
		if got < prev {
			t.Fatalf("Log2Fx not monotonic at v=%d: got %d < prev %d", v, got, prev)
		}
		prev = got
	}
}

func TestScoreZeroEdges(t *testing.T) {
	cases := []struct {
		tf, df, n uint64
	}{
		{0, 5, 10},
		{5, 0, 10},
		{5, 5, 0},
	}

	for _, c := range cases {
		if got := Score(c.tf, c.df, c.n); got != 0 {
			t.Fatalf("Score(%d,%d,%d) = %d, want 0", c.tf, c.df, c.n, got)
		}
	}
}

func TestScoreTermInEveryDocumentClampsToZero(t *testing.T) {
	// df == N means the term carries no discriminating information.
	got := Score(3, 10, 10)
	if got != 0 {
		t.Fatalf("Score with df==N = %d, want 0 (IDF clamped)", got)
	}
}

func TestScoreHigherTFScoresHigher(t *testing.T) {
	low := Score(1, 2, 100)
	high := Score(10, 2, 100)

	if high <= low {
		t.Fatalf("expected higher tf to score higher: low=%d high=%d", low, high)
	}
}

func TestScoreRarerTermScoresHigher(t *testing.T) {
	common := Score(3, 50, 100)
	rare := Score(3, 2, 100)

	if rare <= common {
		t.Fatalf("expected rarer term to score higher: common=%d rare=%d", common, rare)
	}
}

func TestNormaliseShorterDocumentBoostsScore(t *testing.T) {
	raw := Score(5, 2, 100)

	avgLen16_16 := uint64(100) << Avg16_16FracBits

	short := Normalise(raw, 20, avgLen16_16)
	long := Normalise(raw, 500, avgLen16_16)

	if short <= long {
		t.Fatalf("expected shorter doc to score higher after normalisation: short=%d long=%d", short, long)
	}
}

func TestNormaliseZeroAvgLenIsNoop(t *testing.T) {
	raw := Score(5, 2, 100)
	if got := Normalise(raw, 20, 0); got != raw {
		t.Fatalf("Normalise with avgLen=0 = %d, want %d (unchanged)", got, raw)
	}
}

func TestToFloat64(t *testing.T) {
	if got := ToFloat64(One); got != 1.0 {
		t.Fatalf("ToFloat64(One) = %v, want 1.0", got)
	}
	if got := ToFloat64(3 * One / 2); got != 1.5 {
		t.Fatalf("ToFloat64(1.5*One) = %v, want 1.5", got)
	}
}
