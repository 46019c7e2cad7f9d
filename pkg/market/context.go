package market

import (
	"fmt"
	"sync/atomic"
)

// Context is the immutable, reference-counted snapshot of every asset and
// symbol known to the system, handed to every pipeline stage (§9, "Global
// mutable state"). It is built once at startup from the YAML
// market_context config section and replaces the teacher's mutable,
// per-field-locked MarketRegistry (pkg/app/core/market/registry.go) with a
// whole-table value that is swapped atomically as a unit: an in-flight
// order keeps running against the *Context it was admitted under, and a
// hot-reload never mutates a Context a stage still holds a pointer to.
type Context struct {
	assets  map[uint32]Asset
	symbols map[uint32]Symbol
	byName  map[string]uint32 // symbol name -> id, for gateway lookups
}

// NewContext builds a Context from asset/symbol tables, validating both and
// the base/quote references between them.
func NewContext(assets []Asset, symbols []Symbol) (*Context, error) {
	c := &Context{
		assets:  make(map[uint32]Asset, len(assets)),
		symbols: make(map[uint32]Symbol, len(symbols)),
		byName:  make(map[string]uint32, len(symbols)),
	}
	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.assets[a.ID]; dup {
			return nil, fmt.Errorf("market: duplicate asset id %d", a.ID)
		}
		c.assets[a.ID] = a
	}
	for _, s := range symbols {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, ok := c.assets[s.BaseAssetID]; !ok {
			return nil, fmt.Errorf("market: symbol %s references unknown base asset %d", s.Name, s.BaseAssetID)
		}
		if _, ok := c.assets[s.QuoteAssetID]; !ok {
			return nil, fmt.Errorf("market: symbol %s references unknown quote asset %d", s.Name, s.QuoteAssetID)
		}
		if _, dup := c.symbols[s.ID]; dup {
			return nil, fmt.Errorf("market: duplicate symbol id %d", s.ID)
		}
		c.symbols[s.ID] = s
		c.byName[s.Name] = s.ID
	}
	return c, nil
}

func (c *Context) Asset(id uint32) (Asset, bool) {
	a, ok := c.assets[id]
	return a, ok
}

func (c *Context) Symbol(id uint32) (Symbol, bool) {
	s, ok := c.symbols[id]
	return s, ok
}

func (c *Context) SymbolByName(name string) (Symbol, bool) {
	id, ok := c.byName[name]
	if !ok {
		return Symbol{}, false
	}
	s, ok := c.symbols[id]
	return s, ok
}

// Symbols returns every registered symbol, for depth/metrics enumeration.
func (c *Context) Symbols() []Symbol {
	out := make([]Symbol, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// WithSymbolStatus returns a new Context equal to c except that the named
// symbol's Status is replaced — used to build the next value swapped into
// a Registry on a TRADING<->HALT transition.
func (c *Context) WithSymbolStatus(symbolID uint32, status Status) (*Context, error) {
	sym, ok := c.symbols[symbolID]
	if !ok {
		return nil, fmt.Errorf("market: unknown symbol id %d", symbolID)
	}
	sym.Status = status

	assets := make([]Asset, 0, len(c.assets))
	for _, a := range c.assets {
		assets = append(assets, a)
	}
	symbols := make([]Symbol, 0, len(c.symbols))
	for id, s := range c.symbols {
		if id == symbolID {
			s = sym
		}
		symbols = append(symbols, s)
	}
	return NewContext(assets, symbols)
}

// Registry holds the live *Context behind an atomic pointer so stages can
// read it lock-free and a hot-reload can swap the whole table in one
// atomic store,
// per §9's "loaded once... hot-reload updates the reference atomically".
type Registry struct {
	ptr atomic.Pointer[Context]
}

func NewRegistry(initial *Context) *Registry {
	r := &Registry{}
	r.ptr.Store(initial)
	return r
}

// Current returns the Context a caller should use for the admission of a
// new order right now. Callers that need to keep using the Context an
// order was originally admitted under should hold onto the returned
// pointer rather than calling Current again mid-flight.
func (r *Registry) Current() *Context {
	return r.ptr.Load()
}

// Swap atomically replaces the live Context, e.g. after a reload or a
// status-transition edit.
func (r *Registry) Swap(next *Context) {
	r.ptr.Store(next)
}
