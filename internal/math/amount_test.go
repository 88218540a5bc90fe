package math_test

import (
	"math"
	"testing"

	amath "ParaCover/internal/math"
)

func TestMulDiv_ExactDivision(t *testing.T) {
	for _, mode := range []amath.RoundingMode{amath.RoundDown, amath.RoundUp} {
		got, err := amath.MulDiv(1_000, 3, 4, mode)
		if err != nil {
			t.Fatalf("MulDiv failed: %v", err)
		}
		if got != 750 {
			t.Errorf("1_000*3/4 = %d, want 750 (mode %d)", got, mode)
		}
	}
}

func TestMulDiv_RoundingModes(t *testing.T) {
	down, err := amath.MulDiv(100, 1_200, 1_500, amath.RoundDown)
	if err != nil {
		t.Fatalf("MulDiv failed: %v", err)
	}
	if down != 80 {
		t.Errorf("floor: got %d, want 80", down)
	}

	// 99 * 1_200 / 1_500 = 79.2
	down, _ = amath.MulDiv(99, 1_200, 1_500, amath.RoundDown)
	up, _ := amath.MulDiv(99, 1_200, 1_500, amath.RoundUp)
	if down != 79 {
		t.Errorf("floor of 79.2: got %d, want 79", down)
	}
	if up != 80 {
		t.Errorf("ceiling of 79.2: got %d, want 80", up)
	}
}

func TestMulDiv_IntermediateOverflowSurvives(t *testing.T) {
	// a*b overflows uint64 but the quotient fits.
	got, err := amath.MulDiv(math.MaxUint64, 2, 4, amath.RoundDown)
	if err != nil {
		t.Fatalf("MulDiv failed: %v", err)
	}
	if got != math.MaxUint64/2 {
		t.Errorf("got %d, want %d", got, uint64(math.MaxUint64/2))
	}
}

func TestMulDiv_ResultOverflowRejected(t *testing.T) {
	if _, err := amath.MulDiv(math.MaxUint64, 2, 1, amath.RoundDown); err == nil {
		t.Error("result overflow should error")
	}
	// Ceiling on MaxUint64 * anything / same stays exact, but a remainder
	// pushing past MaxUint64 must error too.
	if _, err := amath.MulDiv(math.MaxUint64, 3, 2, amath.RoundUp); err == nil {
		t.Error("ceiling overflow should error")
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := amath.MulDiv(1, 1, 0, amath.RoundDown); err == nil {
		t.Error("zero denominator should error")
	}
}

func TestCheckedMul(t *testing.T) {
	got, err := amath.CheckedMul(200, 4)
	if err != nil || got != 800 {
		t.Errorf("200*4: got %d err %v", got, err)
	}
	got, err = amath.CheckedMul(0, math.MaxUint64)
	if err != nil || got != 0 {
		t.Errorf("0*max: got %d err %v", got, err)
	}
	if _, err := amath.CheckedMul(math.MaxUint64, 2); err == nil {
		t.Error("overflow should error")
	}
}

func TestCheckedAdd(t *testing.T) {
	got, err := amath.CheckedAdd(math.MaxUint64-1, 1)
	if err != nil || got != math.MaxUint64 {
		t.Errorf("max-1+1: got %d err %v", got, err)
	}
	if _, err := amath.CheckedAdd(math.MaxUint64, 1); err == nil {
		t.Error("overflow should error")
	}
}
