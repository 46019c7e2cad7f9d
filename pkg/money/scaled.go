// Package money implements the core's fixed-point arithmetic: every
// quantity that crosses the WAL or the ledger is a scaled integer, never a
// float. Conversion to/from external decimal strings happens only at the
// system boundary (the gateway), never here.
package money

import (
	"fmt"
	"math/bits"
)

// Amount is a non-negative scaled quantity (balance, locked funds, order
// qty/price). Scaled integers are asset- or symbol-specific: 1 unit =
// 10^-scale of the real-world quantity.
type Amount uint64

// Delta is a signed change applied to an Amount, used for BalanceEvent deltas
// and anywhere a mutation can be negative (withdraw, unlock, settle debit).
type Delta int64

// Add returns a+b, erroring on overflow. Overflow on a real balance is a
// bug upstream (an asset with more than 2^64-1 scaled units does not exist
// in this system) and the caller should treat it as fatal, not recoverable.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("money: overflow adding %d + %d", a, b)
	}
	return sum, nil
}

// Sub returns a-b, erroring if the result would be negative. Lock safety
// (available >= 0, locked >= 0) is enforced by callers checking this error.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, fmt.Errorf("money: underflow subtracting %d - %d", a, b)
	}
	return a - b, nil
}

// ApplyDelta applies a signed delta to an Amount, erroring on underflow or
// overflow. Used uniformly by the ledger for Deposit/Withdraw/Lock/Unlock/
// Settle mutations, all of which are expressed as a Delta against a field.
func (a Amount) ApplyDelta(d Delta) (Amount, error) {
	if d >= 0 {
		return a.Add(Amount(d))
	}
	return a.Sub(Amount(-d))
}

// MulDiv computes floor(a * num / den) using a 128-bit intermediate product
// (via math/bits.Mul64/Div64), avoiding the int64 overflow that a naive
// a*num/den risks for realistic price*qty notionals. Used for price*qty
// notional and fee bps calculations. Returns an error if the true quotient
// does not fit in 64 bits.
func MulDiv(a Amount, num, den uint64) (Amount, error) {
	if den == 0 {
		return 0, fmt.Errorf("money: division by zero")
	}
	hi, lo := bits.Mul64(uint64(a), num)
	if hi >= den {
		return 0, fmt.Errorf("money: overflow in MulDiv(%d, %d, %d)", a, num, den)
	}
	q, _ := bits.Div64(hi, lo, den)
	return Amount(q), nil
}

// Scale describes how many decimal places a scaled integer represents for
// a given asset (internal_scale, §3) or symbol (price_scale/qty_scale).
type Scale uint8

// Pow10 returns 10^s as a uint64; s is always small (asset precisions are
// single digits in practice), so overflow is not a concern here.
func (s Scale) Pow10() uint64 {
	v := uint64(1)
	for i := Scale(0); i < s; i++ {
		v *= 10
	}
	return v
}
