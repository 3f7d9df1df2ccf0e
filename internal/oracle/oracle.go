package oracle

import (
	"context"
	"errors"
)

// Holding is one asset position reported for a participant.
type Holding struct {
	Mint      string `json:"mint"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	RawAmount int64  `json:"raw_amount"`
}

// ErrOracleUnavailable is returned after retry exhaustion. Transient:
// callers may resubmit.
var ErrOracleUnavailable = errors.New("balance oracle unavailable")

// BalanceOracle reports a participant's current holdings. The core only
// consumes this interface; fetching, caching, and index policy live
// behind it.
type BalanceOracle interface {
	Holdings(ctx context.Context, participant string) ([]Holding, error)
}

// HoldingPresence answers account-presence checks from the holdings index:
// an owner has a holding account for a mint when the oracle lists that
// mint, at any amount including zero.
type HoldingPresence struct {
	Oracle BalanceOracle
}

func (p HoldingPresence) HasHoldingAccount(ctx context.Context, owner, mint string) (bool, error) {
	holdings, err := p.Oracle.Holdings(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, h := range holdings {
		if h.Mint == mint {
			return true, nil
		}
	}
	return false, nil
}
