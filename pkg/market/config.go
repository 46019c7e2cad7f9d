package market

import "fmt"

// ConfigAsset and ConfigSymbol are the YAML wire shapes for the
// market_context config section (§6); config.Config embeds these and
// decodes them with gopkg.in/yaml.v3. Kept separate from Asset/Symbol so
// the YAML tags don't leak into the hot-path types.
type ConfigAsset struct {
	ID            uint32 `yaml:"id"`
	Code          string `yaml:"code"`
	InternalScale uint8  `yaml:"internal_scale"`
	Precision     uint8  `yaml:"precision"`
}

type ConfigSymbol struct {
	ID           uint32 `yaml:"id"`
	Name         string `yaml:"name"`
	BaseAssetID  uint32 `yaml:"base_asset_id"`
	QuoteAssetID uint32 `yaml:"quote_asset_id"`
	PriceScale   uint8  `yaml:"price_scale"`
	QtyScale     uint8  `yaml:"qty_scale"`
	MinQty       uint64 `yaml:"min_qty"`
	MakerFeeBps  int64  `yaml:"maker_fee_bps"`
	TakerFeeBps  int64  `yaml:"taker_fee_bps"`
}

// BuildContext converts the YAML-decoded config tables into a validated
// Context, with every symbol starting in TRADING status.
func BuildContext(assets []ConfigAsset, symbols []ConfigSymbol) (*Context, error) {
	as := make([]Asset, 0, len(assets))
	for _, a := range assets {
		as = append(as, Asset{
			ID:            a.ID,
			Code:          a.Code,
			InternalScale: a.InternalScale,
			Precision:     a.Precision,
		})
	}
	ss := make([]Symbol, 0, len(symbols))
	for _, s := range symbols {
		ss = append(ss, Symbol{
			ID:           s.ID,
			Name:         s.Name,
			BaseAssetID:  s.BaseAssetID,
			QuoteAssetID: s.QuoteAssetID,
			PriceScale:   s.PriceScale,
			QtyScale:     s.QtyScale,
			MinQty:       s.MinQty,
			MakerFeeBps:  s.MakerFeeBps,
			TakerFeeBps:  s.TakerFeeBps,
			Status:       StatusTrading,
		})
	}
	ctx, err := NewContext(as, ss)
	if err != nil {
		return nil, fmt.Errorf("market: building context from config: %w", err)
	}
	return ctx, nil
}
