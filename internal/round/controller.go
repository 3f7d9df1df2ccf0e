package round

import (
	"context"
	"fmt"
	"time"

	"PotLedger/internal/draw"
	"PotLedger/internal/event"
	"PotLedger/internal/ledger"
	"PotLedger/internal/observability"
	"PotLedger/internal/settle"

	"github.com/rs/zerolog"
)

// Output couples an emitted event with the round snapshot it was derived
// from. Every lifecycle transition produces exactly one Output.
type Output struct {
	Event event.Event
	Round *ledger.Round

	// Deposits carries newly recorded deposits (DepositAccepted only).
	Deposits []ledger.Deposit

	// Plan carries the payout transfer plan (RoundSettled only).
	Plan *settle.TransferPlan

	// TxRef carries the broadcast reference of the payout plan, if a
	// broadcaster is wired (RoundSettled only).
	TxRef settle.TxRef
}

// Config holds the lifecycle timing knobs.
type Config struct {
	RoundDuration  time.Duration // active phase length
	DrawDelay      time.Duration // pause between cutoff and draw
	Intermission   time.Duration // pause between rounds
	ConfirmTimeout time.Duration // submission confirmation deadline
	DrawRetries    int           // draw attempts before failed-to-settle
}

func (c Config) withDefaults() Config {
	if c.RoundDuration <= 0 {
		c.RoundDuration = 54 * time.Second
	}
	if c.DrawDelay <= 0 {
		c.DrawDelay = 2 * time.Second
	}
	if c.Intermission <= 0 {
		c.Intermission = 10 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 90 * time.Second
	}
	if c.DrawRetries <= 0 {
		c.DrawRetries = 3
	}
	return c
}

// Controller drives the round lifecycle: open, collect deposits, cut off,
// commit, draw, settle, reset. It is the single writer of phase transitions;
// deposit confirmations go through it as well so that the cutoff and the
// final deposit are ordered by the ledger lock, never by luck.
type Controller struct {
	cfg Config

	ledger      *ledger.Ledger
	builder     *settle.Builder
	tracker     *settle.Tracker
	broadcaster settle.Broadcaster // optional
	seeds       draw.SeedSource

	// Blocking send: the controller stalls until the persistence worker
	// drains. No transition is lost.
	persistChan chan<- Output

	// Non-blocking sends: drop on full. Read models and subscribers can
	// catch up from the durable log.
	projectionChan chan<- Output
	publishChan    chan<- Output

	metrics *observability.Metrics
	log     zerolog.Logger

	nextID int64
	now    func() time.Time
}

func NewController(
	cfg Config,
	lg *ledger.Ledger,
	builder *settle.Builder,
	tracker *settle.Tracker,
	broadcaster settle.Broadcaster,
	seeds draw.SeedSource,
	persistChan, projectionChan, publishChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		cfg:            cfg.withDefaults(),
		ledger:         lg,
		builder:        builder,
		tracker:        tracker,
		broadcaster:    broadcaster,
		seeds:          seeds,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		publishChan:    publishChan,
		metrics:        metrics,
		log:            log,
		nextID:         1,
		now:            time.Now,
	}
}

// Resume installs a recovered round before Run starts. A round that was
// interrupted mid-flight is marked failed rather than resumed: the timers
// that governed it are gone and a partial round must not settle.
func (c *Controller) Resume(r *ledger.Round) {
	if r == nil {
		return
	}

	c.ledger.Restore(r)
	c.nextID = r.ID + 1

	if !r.Phase.Terminal() {
		failed, err := c.ledger.MarkFailed(r.ID, "interrupted by restart")
		if err != nil {
			c.log.Error().Err(err).Int64("round_id", r.ID).Msg("could not fail interrupted round")
			return
		}
		c.log.Warn().
			Int64("round_id", r.ID).
			Str("phase", r.Phase.String()).
			Int64("pot_total", r.PotTotal).
			Msg("recovered round was mid-flight, marked failed")

		c.emit(Output{
			Event: &event.RoundFailed{
				Meta:     event.NewMeta(r.ID, c.now()),
				Reason:   "interrupted by restart",
				PotTotal: r.PotTotal,
			},
			Round: failed,
		})
		if c.metrics != nil {
			c.metrics.RoundsFailed.WithLabelValues("restart").Inc()
		}
	}
}

// Run drives rounds until the context is cancelled. The current round is
// allowed to finish its transition before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().
		Dur("round_duration", c.cfg.RoundDuration).
		Dur("draw_delay", c.cfg.DrawDelay).
		Dur("intermission", c.cfg.Intermission).
		Int("draw_retries", c.cfg.DrawRetries).
		Msg("round controller started")

	for {
		if err := c.runRound(ctx); err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("round controller stopped")
				return nil
			}
			c.log.Error().Err(err).Msg("round aborted")
		}

		if c.metrics != nil {
			c.metrics.SetPhase("starting")
		}
		select {
		case <-ctx.Done():
			c.log.Info().Msg("round controller stopped")
			return nil
		case <-time.After(c.cfg.Intermission):
		}
	}
}

// runRound executes one full round from open to reset.
func (c *Controller) runRound(ctx context.Context) error {
	id := c.nextID
	c.nextID++

	openedAt := c.now()
	closesAt := openedAt.Add(c.cfg.RoundDuration)

	r, err := c.ledger.Open(id, openedAt, closesAt)
	if err != nil {
		return fmt.Errorf("open round %d: %w", id, err)
	}

	c.log.Info().
		Int64("round_id", id).
		Time("closes_at", closesAt).
		Msg("round opened")

	c.emit(Output{
		Event: &event.RoundOpened{
			Meta:     event.NewMeta(id, openedAt),
			OpenedAt: openedAt,
			ClosesAt: closesAt,
		},
		Round: r,
	})
	if c.metrics != nil {
		c.metrics.RoundsOpened.Inc()
		c.metrics.CurrentRoundID.Set(float64(id))
		c.metrics.SetPhase("active")
		c.metrics.PotTotal.Set(0)
	}

	if err := c.waitActive(ctx, closesAt); err != nil {
		return err
	}

	// Hard cutoff. BeginClosing and Record share the ledger lock, so a
	// deposit either lands strictly before this transition or is rejected.
	// Everything below works from the frozen list it returns.
	closedAt := c.now()
	closing, err := c.ledger.BeginClosing(id, closedAt)
	if err != nil {
		return fmt.Errorf("close round %d: %w", id, err)
	}

	if len(closing.Deposits) == 0 {
		return c.skipRound(id)
	}

	seed, err := c.newSeed()
	if err != nil {
		return c.failRound(id, closing.PotTotal, fmt.Sprintf("seed generation: %v", err))
	}

	// The commitment binds the frozen list the draw will use.
	digest := draw.DepositsDigest(closing.Deposits)
	commitment := draw.Commitment(digest, seed)
	closing, err = c.ledger.SetCommitment(id, commitment[:])
	if err != nil {
		return fmt.Errorf("commit round %d: %w", id, err)
	}

	c.log.Info().
		Int64("round_id", id).
		Int64("pot_total", closing.PotTotal).
		Int("deposits", len(closing.Deposits)).
		Hex("commitment", commitment[:]).
		Msg("deposits cut off, commitment published")

	c.emit(Output{
		Event: &event.RoundClosing{
			Meta:       event.NewMeta(id, closedAt),
			ClosedAt:   closedAt,
			PotTotal:   closing.PotTotal,
			Deposits:   len(closing.Deposits),
			Commitment: commitment[:],
		},
		Round: closing,
	})
	if c.metrics != nil {
		c.metrics.SetPhase("ending")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.DrawDelay):
	}

	return c.settleRound(ctx, closing, seed)
}

// waitActive blocks until the deposit window closes, sweeping expired
// submissions along the way.
func (c *Controller) waitActive(ctx context.Context, closesAt time.Time) error {
	timer := time.NewTimer(time.Until(closesAt))
	defer timer.Stop()

	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case now := <-sweep.C:
			expired := c.tracker.Sweep(now)
			for _, sub := range expired {
				c.log.Warn().
					Str("submission_id", sub.ID.String()).
					Str("participant", sub.Participant).
					Msg("submission expired unconfirmed")
			}
			if c.metrics != nil {
				c.metrics.ConfirmationsExpired.Add(float64(len(expired)))
				c.metrics.PendingSubmissions.Set(float64(c.tracker.PendingCount()))
			}
		}
	}
}

// settleRound draws a winner with bounded retries, records the outcome,
// and builds the payout plan.
func (c *Controller) settleRound(ctx context.Context, r *ledger.Round, seed draw.Seed) error {
	var (
		res     draw.Result
		plan    *settle.TransferPlan
		lastErr error
	)

	drawStart := c.now()
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < c.cfg.DrawRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.DrawRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		res, lastErr = draw.Draw(r.Deposits, seed)
		if lastErr != nil {
			c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("draw attempt failed")
			continue
		}

		payout := *r
		payout.Winner = res.Winner
		plan, lastErr = c.builder.BuildPayout(ctx, &payout)
		if lastErr != nil {
			c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("payout plan build failed")
			continue
		}
		break
	}

	if lastErr != nil {
		if c.metrics != nil {
			c.metrics.DrawFailures.Inc()
		}
		return c.failRound(r.ID, r.PotTotal, fmt.Sprintf("draw retries exhausted: %v", lastErr))
	}

	if c.metrics != nil {
		c.metrics.DrawDuration.Observe(c.now().Sub(drawStart).Seconds())
	}

	settledAt := c.now()
	settled, err := c.ledger.MarkSettled(r.ID, res.Winner, r.PotTotal, seed[:], settledAt)
	if err != nil {
		if err == ledger.ErrAlreadySettled {
			// Outcome already recorded. Read it, never redraw.
			c.log.Warn().Int64("round_id", r.ID).Msg("round already settled, keeping recorded outcome")
			return nil
		}
		return fmt.Errorf("settle round %d: %w", r.ID, err)
	}

	var ref settle.TxRef
	if c.broadcaster != nil {
		ref, err = c.broadcaster.SignAndBroadcast(ctx, plan)
		if err != nil {
			// The outcome is recorded; the payout can be re-broadcast
			// from the durable plan.
			c.log.Error().Err(err).
				Int64("round_id", r.ID).
				Str("plan_id", plan.PlanID.String()).
				Msg("payout broadcast failed")
		}
	}

	c.log.Info().
		Int64("round_id", r.ID).
		Str("winner", res.Winner).
		Int64("payout", settled.PayoutAmount).
		Int64("point", res.Point).
		Int64("total_weight", res.TotalWeight).
		Msg("round settled")

	c.emit(Output{
		Event: &event.RoundSettled{
			Meta:         event.NewMeta(r.ID, settledAt),
			Winner:       res.Winner,
			PayoutAmount: settled.PayoutAmount,
			Seed:         seed[:],
			SettledAt:    settledAt,
		},
		Round: settled,
		Plan:  plan,
		TxRef: ref,
	})
	if c.metrics != nil {
		c.metrics.RoundsSettled.Inc()
		c.metrics.RoundDuration.Observe(settledAt.Sub(settled.OpenedAt).Seconds())
		c.metrics.SetPhase("ended")
		c.metrics.PlansBuilt.WithLabelValues("payout").Inc()
		c.metrics.PlanInstructions.Observe(float64(len(plan.Instructions)))
	}

	c.emitReset(r.ID)
	return nil
}

// skipRound ends a round that closed empty. No draw, no payout.
func (c *Controller) skipRound(id int64) error {
	now := c.now()
	skipped, err := c.ledger.Skip(id)
	if err != nil {
		return fmt.Errorf("skip round %d: %w", id, err)
	}

	c.log.Info().Int64("round_id", id).Msg("round closed with no deposits")

	c.emit(Output{
		Event: &event.RoundSettled{
			Meta:      event.NewMeta(id, now),
			SettledAt: now,
		},
		Round: skipped,
	})
	if c.metrics != nil {
		c.metrics.RoundsSkipped.Inc()
		c.metrics.SetPhase("ended")
	}

	c.emitReset(id)
	return nil
}

// failRound moves the round to failed-to-settle. The pot stays in the
// ledger; nothing transfers without an operator decision.
func (c *Controller) failRound(id int64, potTotal int64, reason string) error {
	failed, err := c.ledger.MarkFailed(id, reason)
	if err != nil {
		return fmt.Errorf("fail round %d: %w", id, err)
	}

	c.log.Error().
		Int64("round_id", id).
		Int64("pot_total", potTotal).
		Str("reason", reason).
		Msg("round failed to settle")

	c.emit(Output{
		Event: &event.RoundFailed{
			Meta:     event.NewMeta(id, c.now()),
			Reason:   reason,
			PotTotal: potTotal,
		},
		Round: failed,
	})
	if c.metrics != nil {
		c.metrics.RoundsFailed.WithLabelValues("draw").Inc()
		c.metrics.SetPhase("failed")
	}

	c.emitReset(id)
	return nil
}

func (c *Controller) emitReset(id int64) {
	now := c.now()
	c.emit(Output{
		Event: &event.RoundReset{
			Meta:        event.NewMeta(id, now),
			NextOpensAt: now.Add(c.cfg.Intermission),
		},
		Round: c.ledger.Current(),
	})
}

// emit fans an Output out to the persist, projection, and publish channels.
func (c *Controller) emit(out Output) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if c.publishChan != nil {
		select {
		case c.publishChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (c *Controller) newSeed() (draw.Seed, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.DrawRetries; attempt++ {
		seed, err := c.seeds.NewSeed()
		if err == nil {
			return seed, nil
		}
		lastErr = err
	}
	return draw.Seed{}, lastErr
}
