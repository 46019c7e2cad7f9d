package market

import "fmt"

// Asset is immutable once created: code, internal scale and display
// precision are loaded once at startup from the external asset registry
// and never change thereafter (§3).
type Asset struct {
	ID            uint32
	Code          string
	InternalScale uint8 // decimals of the scaled-integer representation
	Precision     uint8 // decimals shown to external clients (<= InternalScale)
}

func (a Asset) Validate() error {
	if a.Code == "" {
		return fmt.Errorf("market: asset %d has empty code", a.ID)
	}
	if a.Precision > a.InternalScale {
		return fmt.Errorf("market: asset %s precision %d exceeds internal scale %d", a.Code, a.Precision, a.InternalScale)
	}
	return nil
}
