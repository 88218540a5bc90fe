package math

import (
	"fmt"
	"math"
	"math/big"
	"sync"
)

// RoundingMode selects how MulDiv resolves a non-zero remainder.
type RoundingMode int

const (
	RoundDown RoundingMode = iota // floor — favors the pool on deposits
	RoundUp                       // ceiling — favors the pool on withdrawals
)

// int128Pool holds big.Ints for intermediate products that can exceed uint64.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetUint64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDiv computes a * b / denom with 128-bit intermediate precision and the
// given rounding mode. Returns an error if denom is zero or the result does
// not fit in uint64.
func MulDiv(a, b, denom uint64, mode RoundingMode) (uint64, error) {
	if denom == 0 {
		return 0, fmt.Errorf("muldiv: division by zero")
	}

	product := getInt128()
	defer putInt128(product)

	product.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))

	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(product, new(big.Int).SetUint64(denom), remainder)

	if mode == RoundUp && remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}

	if !quotient.IsUint64() {
		return 0, fmt.Errorf("muldiv: result overflows uint64 (%d * %d / %d)", a, b, denom)
	}
	return quotient.Uint64(), nil
}

// CheckedMul returns a * b, or an error on uint64 overflow.
func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, fmt.Errorf("checked mul: %d * %d overflows uint64", a, b)
	}
	return a * b, nil
}

// CheckedAdd returns a + b, or an error on uint64 overflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("checked add: %d + %d overflows uint64", a, b)
	}
	return a + b, nil
}
