package market

import "fmt"

// Status mirrors §3: numeric fields are immutable once the symbol is
// created, but Status may flip TRADING->HALT via a MarketContext reload.
type Status int8

const (
	StatusTrading Status = iota
	StatusHalt
)

func (s Status) String() string {
	switch s {
	case StatusTrading:
		return "TRADING"
	case StatusHalt:
		return "HALT"
	default:
		return "UNKNOWN"
	}
}

// Symbol is the tradable instrument metadata from §3: two asset legs,
// scaling, lot-size floor, and the fee schedule a trade on this symbol is
// priced against (§4.4).
type Symbol struct {
	ID           uint32
	Name         string // e.g. "BTC_USDT"
	BaseAssetID  uint32
	QuoteAssetID uint32
	PriceScale   uint8
	QtyScale     uint8
	MinQty       uint64 // scaled, enforced at pre-trade risk (§4.1)
	MakerFeeBps  int64
	TakerFeeBps  int64
	Status       Status
}

func (s Symbol) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("market: symbol %d has empty name", s.ID)
	}
	if s.BaseAssetID == s.QuoteAssetID {
		return fmt.Errorf("market: symbol %s has identical base/quote asset", s.Name)
	}
	return nil
}

// IsTrading reports whether new orders may currently be admitted for this
// symbol. A HALTed symbol still allows cancel/reduce of resting orders.
func (s Symbol) IsTrading() bool {
	return s.Status == StatusTrading
}
