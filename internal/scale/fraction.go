// Package scale turns a continuous downscale ratio into the simple fraction
// accepted by a JPEG decoder's -scale flag.
package scale

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// MaxDenominator bounds the denominator of every approximated fraction.
	MaxDenominator = 8

	precision = 1000
	maxRatio  = 1 << 16

	// ratio*MaxDenominator values within epsilon of an integer are treated as
	// that integer so float noise cannot push the result up a full step.
	epsilon = 1e-9
)

var ErrInvalidRatio = errors.New("scale ratio must be positive and finite")

// Fraction is a rational number Num/Den.
type Fraction struct {
	Num int
	Den int
}

// Approximate rounds ratio up to the nearest multiple of 1/MaxDenominator and
// returns it in lowest terms. Rounding is never downward, so a decoder
// instructed with the result produces an image at least as large as ratio
// asks for.
func Approximate(ratio float64) (Fraction, error) {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 || ratio > maxRatio {
		return Fraction{}, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}

	steps := math.Ceil(ratio*MaxDenominator - epsilon)
	if steps < 1 {
		steps = 1
	}

	value := steps / MaxDenominator
	f := Fraction{
		Num: int(math.Round(value * precision)),
		Den: precision,
	}
	return f.Reduce(), nil
}

// Reduce divides out common factors until the fraction is irreducible.
func (f Fraction) Reduce() Fraction {
	if f.Den == 0 {
		return f
	}
	if f.Num == 0 {
		return Fraction{Num: 0, Den: 1}
	}

	cf := gcd(f.Num, f.Den)
	for cf != 1 {
		f.Num /= cf
		f.Den /= cf
		cf = gcd(f.Num, f.Den)
	}
	if f.Den < 0 {
		f.Num, f.Den = -f.Num, -f.Den
	}
	return f
}

func (f Fraction) Float() float64 {
	if f.Den == 0 {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

// IsZero reports whether f is the zero value, meaning "no scale".
func (f Fraction) IsZero() bool {
	return f.Num == 0 && f.Den == 0
}

// Shrinks reports whether f scales an image down.
func (f Fraction) Shrinks() bool {
	return f.Den > 0 && f.Num > 0 && f.Num < f.Den
}

// Apply returns the size a decoder produces for a source dimension, rounding
// partial pixels up the way libjpeg does.
func (f Fraction) Apply(n int) int {
	if f.Den == 0 {
		return n
	}
	return (n*f.Num + f.Den - 1) / f.Den
}

func (f Fraction) String() string {
	return strconv.Itoa(f.Num) + "/" + strconv.Itoa(f.Den)
}

// Parse reads a fraction written as "n/d".
func Parse(s string) (Fraction, error) {
	var f Fraction
	if _, err := fmt.Sscanf(s, "%d/%d", &f.Num, &f.Den); err != nil {
		return Fraction{}, fmt.Errorf("parse fraction %q: %w", s, err)
	}
	if f.Num <= 0 || f.Den <= 0 {
		return Fraction{}, fmt.Errorf("parse fraction %q: %w", s, ErrInvalidRatio)
	}
	return f, nil
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
