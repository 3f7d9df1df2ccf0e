package settle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"PotLedger/internal/asset"
	"PotLedger/internal/ledger"
	"PotLedger/internal/oracle"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInsufficientFunds is returned when a requested stake exceeds the
// participant's oracle-reported balance. Not retried automatically.
var ErrInsufficientFunds = errors.New("insufficient funds")

// AccountPresence reports whether a holding account for (owner, mint)
// already exists on the external ledger. Consumed, not implemented here;
// the answer decides whether a plan needs a provisioning instruction.
type AccountPresence interface {
	HasHoldingAccount(ctx context.Context, owner, mint string) (bool, error)
}

// StakeRequest is one (asset, human amount) leg of a deposit submission.
type StakeRequest struct {
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
}

// Builder assembles atomic transfer plans for deposits (participant to
// pool) and payouts (pool to winner). Pure over its inputs: it takes
// immutable snapshots and holds no locks.
type Builder struct {
	assets   *asset.Registry
	oracle   oracle.BalanceOracle
	presence AccountPresence
	pool     string // pool account address
	log      zerolog.Logger
}

func NewBuilder(assets *asset.Registry, o oracle.BalanceOracle, presence AccountPresence, pool string, log zerolog.Logger) *Builder {
	return &Builder{assets: assets, oracle: o, presence: presence, pool: pool, log: log}
}

// BuildDeposit validates the stakes against the participant's balances
// and produces the plan the participant signs, plus the ledger stakes to
// record once the transfer confirms. Instruction order follows request
// order; a token's provisioning instruction immediately precedes its
// transfer so both land in the same atomic unit.
func (b *Builder) BuildDeposit(ctx context.Context, participant string, reqs []StakeRequest) (*TransferPlan, []ledger.Stake, error) {
	if participant == "" {
		return nil, nil, fmt.Errorf("%w: empty participant", asset.ErrInvalidAmount)
	}
	if len(reqs) == 0 {
		return nil, nil, fmt.Errorf("%w: no stakes requested", asset.ErrInvalidAmount)
	}

	// Balance lookup happens here, before any plan is assembled and
	// outside any ledger lock.
	holdings, err := b.oracle.Holdings(ctx, participant)
	if err != nil {
		return nil, nil, err
	}
	available := make(map[string]int64, len(holdings))
	for _, h := range holdings {
		available[h.Mint] += h.RawAmount
	}

	plan := &TransferPlan{
		PlanID:      uuid.New(),
		Source:      participant,
		Destination: b.pool,
	}
	stakes := make([]ledger.Stake, 0, len(reqs))

	for _, req := range reqs {
		a, ok := b.assets.BySymbol(req.Symbol)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", asset.ErrUnknownAsset, req.Symbol)
		}

		raw, err := asset.ToRawAmount(a, req.Amount)
		if err != nil {
			return nil, nil, err
		}
		if raw > available[a.Mint] {
			return nil, nil, fmt.Errorf("%w: %s stake %d exceeds balance %d",
				ErrInsufficientFunds, a.Symbol, raw, available[a.Mint])
		}

		if err := b.appendTransfer(ctx, plan, a, participant, b.pool, raw); err != nil {
			return nil, nil, err
		}
		stakes = append(stakes, ledger.Stake{Asset: a, RawAmount: raw})
	}

	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}

	b.log.Info().Str("plan_id", plan.PlanID.String()).Str("participant", participant).
		Int("instructions", len(plan.Instructions)).Msg("deposit plan built")
	return plan, stakes, nil
}

// BuildPayout produces the pot-to-winner plan for a settled round. Payout
// policy is in-kind pro-rata: the winner receives the round's full raw
// per-asset totals, exactly the mix the pool account holds for the round.
// Assets are iterated sorted by symbol so the plan is reproducible.
func (b *Builder) BuildPayout(ctx context.Context, r *ledger.Round) (*TransferPlan, error) {
	if r.Winner == "" {
		return nil, fmt.Errorf("round %d has no winner", r.ID)
	}
	if len(r.AssetTotals) == 0 {
		return nil, fmt.Errorf("round %d has an empty pot", r.ID)
	}

	ids := make([]asset.AssetID, 0, len(r.AssetTotals))
	for id := range r.AssetTotals {
		ids = append(ids, id)
	}
	assets := make([]*asset.Asset, 0, len(ids))
	for _, id := range ids {
		a, ok := b.assets.ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: asset id %d in round %d", asset.ErrUnknownAsset, id, r.ID)
		}
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })

	plan := &TransferPlan{
		PlanID:      uuid.New(),
		Source:      b.pool,
		Destination: r.Winner,
	}

	for _, a := range assets {
		raw := r.AssetTotals[a.ID]
		if raw <= 0 {
			continue
		}
		if err := b.appendTransfer(ctx, plan, a, b.pool, r.Winner, raw); err != nil {
			return nil, err
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	b.log.Info().Str("plan_id", plan.PlanID.String()).Int64("round_id", r.ID).
		Str("winner", r.Winner).Int("instructions", len(plan.Instructions)).Msg("payout plan built")
	return plan, nil
}

// appendTransfer adds the transfer for one asset, prepending a
// provisioning instruction when the destination holding account is absent.
func (b *Builder) appendTransfer(ctx context.Context, plan *TransferPlan, a *asset.Asset, source, destination string, raw int64) error {
	if a.Native {
		plan.Instructions = append(plan.Instructions, Instruction{
			Kind:        InstructionTransferNative,
			Mint:        a.Mint,
			Symbol:      a.Symbol,
			Source:      source,
			Destination: destination,
			RawAmount:   raw,
		})
		return nil
	}

	has, err := b.presence.HasHoldingAccount(ctx, destination, a.Mint)
	if err != nil {
		return fmt.Errorf("holding account lookup for %s: %w", a.Symbol, err)
	}
	if !has {
		plan.Instructions = append(plan.Instructions, Instruction{
			Kind:        InstructionProvisionAccount,
			Mint:        a.Mint,
			Symbol:      a.Symbol,
			Source:      source,
			Destination: destination,
		})
	}

	plan.Instructions = append(plan.Instructions, Instruction{
		Kind:        InstructionTransferToken,
		Mint:        a.Mint,
		Symbol:      a.Symbol,
		Source:      source,
		Destination: destination,
		RawAmount:   raw,
	})
	return nil
}
