package round

import (
	"context"
	"errors"
	"fmt"

	"PotLedger/internal/asset"
	"PotLedger/internal/event"
	"PotLedger/internal/ledger"
	"PotLedger/internal/settle"

	"github.com/google/uuid"
)

// ErrRoundClosed is returned when a submission or confirmation arrives
// outside a deposit window.
var ErrRoundClosed = errors.New("deposit window closed")

// SubmitDeposit builds a transfer plan for the participant's stakes and
// registers the submission for confirmation. Nothing is recorded in the
// pot yet; the deposit lands only when the transfer confirms, and only if
// the round is still active at that moment.
func (c *Controller) SubmitDeposit(ctx context.Context, participant string, reqs []settle.StakeRequest) (*settle.Submission, error) {
	current := c.ledger.Current()
	if current == nil || current.Phase != ledger.PhaseActive {
		if c.metrics != nil {
			c.metrics.DepositsRejected.WithLabelValues("round_closed").Inc()
		}
		return nil, ErrRoundClosed
	}

	plan, stakes, err := c.builder.BuildDeposit(ctx, participant, reqs)
	if err != nil {
		if c.metrics != nil {
			c.metrics.DepositsRejected.WithLabelValues(rejectionReason(err)).Inc()
		}
		return nil, err
	}

	sub := c.tracker.Register(current.ID, participant, stakes, plan, c.now())

	c.log.Info().
		Str("submission_id", sub.ID.String()).
		Int64("round_id", current.ID).
		Str("participant", participant).
		Int("stakes", len(stakes)).
		Time("expires_at", sub.ExpiresAt).
		Msg("deposit submission registered")

	if c.metrics != nil {
		c.metrics.PlansBuilt.WithLabelValues("deposit").Inc()
		c.metrics.PlanInstructions.Observe(float64(len(plan.Instructions)))
		c.metrics.PendingSubmissions.Set(float64(c.tracker.PendingCount()))
	}

	return sub, nil
}

// ConfirmDeposit applies a transfer confirmation. The stakes are recorded
// against the submission's round under the ledger lock; a confirmation
// racing the cutoff is rejected, not squeezed in.
func (c *Controller) ConfirmDeposit(submissionID uuid.UUID, ref settle.TxRef) ([]ledger.Deposit, error) {
	now := c.now()

	sub, err := c.tracker.Resolve(submissionID, ref, now)
	if err != nil {
		if errors.Is(err, settle.ErrDuplicateConfirmation) && c.metrics != nil {
			c.metrics.ConfirmationDupes.Inc()
		}
		return nil, err
	}

	deposits, err := c.ledger.Record(sub.RoundID, sub.Participant, sub.Stakes, now)
	if err != nil {
		// The transfer confirmed but the window is gone. The ledger
		// stays untouched; the confirmed transfer is surfaced for
		// operator reconciliation.
		c.log.Warn().Err(err).
			Str("submission_id", sub.ID.String()).
			Int64("round_id", sub.RoundID).
			Str("tx_ref", string(ref)).
			Msg("confirmation arrived after cutoff, deposit rejected")
		if c.metrics != nil {
			c.metrics.DepositsRejected.WithLabelValues("late_confirmation").Inc()
		}
		return nil, fmt.Errorf("%w: %v", ErrRoundClosed, err)
	}

	potTotal, _ := c.ledger.PotTotal(sub.RoundID)

	for _, d := range deposits {
		c.emit(Output{
			Event: &event.DepositAccepted{
				Meta:        event.NewMeta(d.RoundID, now),
				DepositID:   d.ID,
				Sequence:    d.Sequence,
				Participant: d.Participant,
				Symbol:      d.Symbol,
				RawAmount:   d.RawAmount,
				Value:       d.Value,
				PotTotal:    potTotal,
				AcceptedAt:  d.AcceptedAt,
			},
			Round:    c.ledger.Current(),
			Deposits: []ledger.Deposit{d},
		})
		if c.metrics != nil {
			c.metrics.DepositsAccepted.WithLabelValues(d.Symbol).Inc()
			c.metrics.DepositValue.Observe(float64(d.Value))
		}
	}

	c.log.Info().
		Str("submission_id", sub.ID.String()).
		Int64("round_id", sub.RoundID).
		Str("participant", sub.Participant).
		Int("deposits", len(deposits)).
		Int64("pot_total", potTotal).
		Msg("deposit confirmed and recorded")

	if c.metrics != nil {
		c.metrics.ConfirmationsApplied.Inc()
		c.metrics.PotTotal.Set(float64(potTotal))
		c.metrics.PendingSubmissions.Set(float64(c.tracker.PendingCount()))
		if r := c.ledger.Current(); r != nil {
			seen := make(map[string]struct{}, len(r.Deposits))
			for _, d := range r.Deposits {
				seen[d.Participant] = struct{}{}
			}
			c.metrics.PotParticipants.Set(float64(len(seen)))
		}
	}

	return deposits, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, settle.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, asset.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, asset.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "oracle"
	}
}
