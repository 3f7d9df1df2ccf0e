package asset

import (
	"fmt"
	"sort"
	"sync"
)

// NativeMint is the sentinel mint address for the chain's native coin.
// Native transfers move base units directly and need no holding account.
const NativeMint = "So11111111111111111111111111111111111111112"

// AssetID maps mint addresses to numeric IDs for compact keys
type AssetID uint16

// Asset describes one depositable asset: its mint, symbol, and decimal
// precision. UnitPrice is a static per-unit weight in the canonical value
// unit (ValueScale fixed-point); live pricing is an external concern.
type Asset struct {
	ID        AssetID
	Mint      string
	Symbol    string
	Decimals  uint8
	Native    bool
	UnitPrice int64 // ValueScale fixed-point, 1.0 == ValueScale
}

// Registry holds the set of assets the pot accepts.
// Reads dominate; registration happens at startup.
type Registry struct {
	mu       sync.RWMutex
	byMint   map[string]*Asset
	bySymbol map[string]*Asset
	byID     map[AssetID]*Asset
	nextID   AssetID
}

func NewRegistry() *Registry {
	return &Registry{
		byMint:   make(map[string]*Asset),
		bySymbol: make(map[string]*Asset),
		byID:     make(map[AssetID]*Asset),
		nextID:   1,
	}
}

// DefaultRegistry returns a registry preloaded with the assets the pot
// accepts out of the box: native SOL and USDC.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Asset{Mint: NativeMint, Symbol: "SOL", Decimals: 9, Native: true, UnitPrice: ValueScale})
	r.MustRegister(Asset{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6, UnitPrice: ValueScale})
	return r
}

// Register adds an asset. The mint and symbol must be unique.
func (r *Registry) Register(a Asset) (*Asset, error) {
	if a.Mint == "" || a.Symbol == "" {
		return nil, fmt.Errorf("asset needs mint and symbol")
	}
	if a.Decimals > MaxDecimals {
		return nil, fmt.Errorf("asset %s: decimals %d exceeds max %d", a.Symbol, a.Decimals, MaxDecimals)
	}
	if a.UnitPrice <= 0 {
		a.UnitPrice = ValueScale
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byMint[a.Mint]; dup {
		return nil, fmt.Errorf("asset mint already registered: %s", a.Mint)
	}
	if _, dup := r.bySymbol[a.Symbol]; dup {
		return nil, fmt.Errorf("asset symbol already registered: %s", a.Symbol)
	}

	a.ID = r.nextID
	r.nextID++

	stored := a
	r.byMint[stored.Mint] = &stored
	r.bySymbol[stored.Symbol] = &stored
	r.byID[stored.ID] = &stored
	return &stored, nil
}

func (r *Registry) MustRegister(a Asset) *Asset {
	reg, err := r.Register(a)
	if err != nil {
		panic(fmt.Sprintf("asset registry: %v", err))
	}
	return reg
}

// ByMint resolves an asset by mint address.
func (r *Registry) ByMint(mint string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byMint[mint]
	return a, ok
}

// BySymbol resolves an asset by symbol.
func (r *Registry) BySymbol(symbol string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.bySymbol[symbol]
	return a, ok
}

// ByID resolves an asset by numeric ID.
func (r *Registry) ByID(id AssetID) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// All returns every registered asset sorted by symbol. Sorted output is
// the canonical iteration order for payout plans.
func (r *Registry) All() []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Asset, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
