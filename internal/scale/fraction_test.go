package scale

import (
	"errors"
	"math"
	"testing"
)

func TestApproximate(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Fraction
	}{
		{ratio: 0.3125, want: Fraction{Num: 3, Den: 8}},
		{ratio: 0.78125, want: Fraction{Num: 7, Den: 8}},
		{ratio: 0.5, want: Fraction{Num: 1, Den: 2}},
		{ratio: 0.25, want: Fraction{Num: 1, Den: 4}},
		{ratio: 0.126, want: Fraction{Num: 1, Den: 4}},
		{ratio: 0.01, want: Fraction{Num: 1, Den: 8}},
		{ratio: 1, want: Fraction{Num: 1, Den: 1}},
		{ratio: 1.3, want: Fraction{Num: 11, Den: 8}},
	}

	for _, tc := range cases {
		got, err := Approximate(tc.ratio)
		if err != nil {
			t.Fatalf("approximate %v: %v", tc.ratio, err)
		}
		if got != tc.want {
			t.Fatalf("approximate %v: expected %s, got %s", tc.ratio, tc.want, got)
		}
	}
}

func TestApproximateRejectsInvalidRatios(t *testing.T) {
	for _, ratio := range []float64{0, -0.5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Approximate(ratio); !errors.Is(err, ErrInvalidRatio) {
			t.Fatalf("expected ErrInvalidRatio for %v, got %v", ratio, err)
		}
	}
}

func TestApproximateNeverRoundsDown(t *testing.T) {
	for source := 1; source <= 2048; source += 7 {
		for target := 1; target <= source; target += 3 {
			f, err := Approximate(float64(target) / float64(source))
			if err != nil {
				t.Fatalf("approximate %d/%d: %v", target, source, err)
			}
			if f.Num*source < target*f.Den {
				t.Fatalf("%d/%d approximated to %s which is below the requested ratio", target, source, f)
			}
			if f.Apply(source) < target {
				t.Fatalf("decoding %d at %s yields %d, smaller than %d", source, f, f.Apply(source), target)
			}
			if MaxDenominator%f.Den != 0 {
				t.Fatalf("denominator %d of %s is not a divisor of %d", f.Den, f, MaxDenominator)
			}
		}
	}
}

func TestReduceIsIdempotent(t *testing.T) {
	for num := 1; num <= 40; num++ {
		for den := 1; den <= 40; den++ {
			once := Fraction{Num: num, Den: den}.Reduce()
			twice := once.Reduce()
			if once != twice {
				t.Fatalf("reduce not idempotent for %d/%d: %s then %s", num, den, once, twice)
			}
			if gcd(once.Num, once.Den) != 1 {
				t.Fatalf("%s is not in lowest terms", once)
			}
		}
	}
}

func TestParse(t *testing.T) {
	f, err := Parse("3/8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f != (Fraction{Num: 3, Den: 8}) {
		t.Fatalf("expected 3/8, got %s", f)
	}
	if _, err := Parse("0/8"); err == nil {
		t.Fatal("expected error for zero numerator")
	}
	if _, err := Parse("half"); err == nil {
		t.Fatal("expected error for malformed fraction")
	}
}

func TestApply(t *testing.T) {
	if got := (Fraction{Num: 3, Den: 8}).Apply(1280); got != 480 {
		t.Fatalf("expected 480, got %d", got)
	}
	if got := (Fraction{Num: 1, Den: 8}).Apply(801); got != 101 {
		t.Fatalf("expected 101, got %d", got)
	}
}
