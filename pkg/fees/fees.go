// Package fees computes maker/taker trading fees with VIP discounts
// (§4.4). Grounded on the teacher's fee bookkeeping in
// pkg/app/core/account.Account (TotalFeesPaid/TotalFeesEarned), but the
// teacher only accumulates fee totals post hoc — the actual bps/discount
// computation here is new, built directly from the spec's formulas using
// pkg/money's overflow-safe integer math.
package fees

import (
	"fmt"

	"github.com/specx-labs/matchcore/pkg/money"
)

// VIPLevel indexes into a Table; level 0 is the default, undiscounted tier.
type VIPLevel int32

// Table maps a VIP level to its discount_percent, where 100 means no
// discount and smaller values mean a cheaper effective fee (§4.4).
type Table map[VIPLevel]int64

// DefaultTable is the discount schedule used when no table is configured:
// every level other than what's listed falls back to level 0's 100
// (no discount).
func DefaultTable() Table {
	return Table{
		0: 100,
		1: 90,
		2: 75,
		3: 60,
		4: 40,
		5: 25,
	}
}

// DiscountPercent looks up a VIP level's discount, defaulting to 100 (no
// discount) for any level the table doesn't carry an entry for.
func (t Table) DiscountPercent(level VIPLevel) int64 {
	if pct, ok := t[level]; ok {
		return pct
	}
	return 100
}

// Compute applies §4.4's two-step truncated-integer formula:
//
//	effective_bps = base_bps * discount_percent / 100
//	fee = received_notional * effective_bps / 10_000
//
// Both divisions truncate toward zero, matching the spec's explicit
// "integer division, truncated" and "truncated to the received asset's
// internal scale" (the scale is already implicit in receivedNotional's
// units, so no extra rounding step is needed here).
func Compute(baseBps int64, level VIPLevel, table Table, receivedNotional money.Amount) (money.Amount, error) {
	if baseBps < 0 {
		return 0, fmt.Errorf("fees: negative base bps %d", baseBps)
	}
	discount := table.DiscountPercent(level)
	if discount < 0 || discount > 100 {
		return 0, fmt.Errorf("fees: discount percent %d out of range for level %d", discount, level)
	}
	effectiveBps := (baseBps * discount) / 100

	fee, err := money.MulDiv(receivedNotional, uint64(effectiveBps), 10_000)
	if err != nil {
		return 0, fmt.Errorf("fees: computing fee: %w", err)
	}
	return fee, nil
}
