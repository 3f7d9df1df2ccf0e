package round

import (
	"PotLedger/internal/asset"
	"PotLedger/internal/draw"
	"PotLedger/internal/event"
	"PotLedger/internal/ledger"
	"PotLedger/internal/oracle"
	"PotLedger/internal/settle"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	testPool  = "PoolAccount111111111111111111111111111111"
	testAlice = "Alice1111111111111111111111111111111111111"
	testBob   = "Bob111111111111111111111111111111111111111"
)

// fixedSeedSource returns one predetermined seed, or an error when set.
type fixedSeedSource struct {
	seed draw.Seed
	err  error
}

func (s fixedSeedSource) NewSeed() (draw.Seed, error) {
	if s.err != nil {
		return draw.Seed{}, s.err
	}
	return s.seed, nil
}

// gatedSeedSource blocks seed generation until released, holding the
// controller in the window between the deposit cutoff and the commitment.
type gatedSeedSource struct {
	entered chan struct{}
	release chan struct{}
	seed    draw.Seed
}

func (s *gatedSeedSource) NewSeed() (draw.Seed, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.seed, nil
}

// recordingBroadcaster returns a canned tx ref and remembers the plan.
type recordingBroadcaster struct {
	plans []*settle.TransferPlan
}

func (b *recordingBroadcaster) SignAndBroadcast(_ context.Context, plan *settle.TransferPlan) (settle.TxRef, error) {
	b.plans = append(b.plans, plan)
	return settle.TxRef(fmt.Sprintf("broadcast-%d", len(b.plans))), nil
}

type testHarness struct {
	ctrl    *Controller
	ledger  *ledger.Ledger
	outputs chan Output
	bcast   *recordingBroadcaster
}

func newHarness(t *testing.T, seeds draw.SeedSource) *testHarness {
	t.Helper()

	reg := asset.DefaultRegistry()
	lg := ledger.New(reg)

	holdings := map[string][]oracle.Holding{
		testAlice: {{Mint: asset.NativeMint, Symbol: "SOL", Decimals: 9, RawAmount: 100_000_000_000}},
		testBob:   {{Mint: asset.NativeMint, Symbol: "SOL", Decimals: 9, RawAmount: 100_000_000_000}},
	}
	o := &oracle.StaticOracle{ByParticipant: holdings}
	builder := settle.NewBuilder(reg, o, oracle.HoldingPresence{Oracle: o}, testPool, zerolog.Nop())
	tracker := settle.NewTracker(time.Second, 64)
	bcast := &recordingBroadcaster{}

	outputs := make(chan Output, 64)
	ctrl := NewController(
		Config{
			RoundDuration:  200 * time.Millisecond,
			DrawDelay:      10 * time.Millisecond,
			Intermission:   10 * time.Millisecond,
			ConfirmTimeout: time.Second,
			DrawRetries:    2,
		},
		lg, builder, tracker, bcast, seeds,
		outputs, nil, nil,
		nil, zerolog.Nop(),
	)

	return &testHarness{ctrl: ctrl, ledger: lg, outputs: outputs, bcast: bcast}
}

// depositDuringRound waits for the round to open and pushes one confirmed
// deposit through the submit/confirm path.
func (h *testHarness) depositDuringRound(t *testing.T, participant string, amount float64, ref settle.TxRef) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for {
		if r := h.ledger.Current(); r != nil && r.Phase == ledger.PhaseActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("round never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sub, err := h.ctrl.SubmitDeposit(context.Background(), participant, []settle.StakeRequest{
		{Symbol: "SOL", Amount: amount},
	})
	if err != nil {
		t.Fatalf("submit deposit: %v", err)
	}
	if _, err := h.ctrl.ConfirmDeposit(sub.ID, ref); err != nil {
		t.Fatalf("confirm deposit: %v", err)
	}
}

func drainEvents(outputs chan Output) []Output {
	var out []Output
	for {
		select {
		case o := <-outputs:
			out = append(out, o)
		default:
			return out
		}
	}
}

func eventTypes(outputs []Output) []event.EventType {
	types := make([]event.EventType, len(outputs))
	for i, o := range outputs {
		types[i] = o.Event.EventType()
	}
	return types
}

func TestRoundLifecycle(t *testing.T) {
	seed := draw.Seed{1, 2, 3}
	h := newHarness(t, fixedSeedSource{seed: seed})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.runRound(context.Background()) }()

	h.depositDuringRound(t, testAlice, 2, "sig-alice")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRound: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("round did not finish")
	}

	outputs := drainEvents(h.outputs)
	want := []event.EventType{
		event.EventTypeRoundOpened,
		event.EventTypeDepositAccepted,
		event.EventTypeRoundClosing,
		event.EventTypeRoundSettled,
		event.EventTypeRoundReset,
	}
	got := eventTypes(outputs)
	if len(got) != len(want) {
		t.Fatalf("event sequence: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	settled := outputs[3].Event.(*event.RoundSettled)
	if settled.Winner != testAlice {
		t.Errorf("winner: got %s, want %s", settled.Winner, testAlice)
	}
	if outputs[3].Plan == nil {
		t.Fatal("settled output carries no payout plan")
	}
	if outputs[3].Plan.Destination != testAlice {
		t.Errorf("payout destination: got %s", outputs[3].Plan.Destination)
	}
	if outputs[3].TxRef == "" {
		t.Error("broadcast tx ref missing")
	}
	if len(h.bcast.plans) != 1 {
		t.Errorf("broadcasts: got %d, want 1", len(h.bcast.plans))
	}

	final := outputs[3].Round
	if final.Phase != ledger.PhaseEnded {
		t.Errorf("final phase: got %s, want ended", final.Phase)
	}
	if final.PayoutAmount != final.PotTotal {
		t.Errorf("payout %d != pot total %d", final.PayoutAmount, final.PotTotal)
	}

	// The revealed seed must verify against the published commitment.
	closing := outputs[2].Event.(*event.RoundClosing)
	var revealed draw.Seed
	copy(revealed[:], settled.Seed)
	if !draw.VerifyCommitment(final.Deposits, revealed, closing.Commitment) {
		t.Error("revealed seed does not verify against the commitment")
	}
}

func TestRoundSkippedWhenEmpty(t *testing.T) {
	h := newHarness(t, fixedSeedSource{seed: draw.Seed{9}})

	if err := h.ctrl.runRound(context.Background()); err != nil {
		t.Fatalf("runRound: %v", err)
	}

	outputs := drainEvents(h.outputs)
	got := eventTypes(outputs)
	want := []event.EventType{
		event.EventTypeRoundOpened,
		event.EventTypeRoundSettled,
		event.EventTypeRoundReset,
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence: got %v, want %v", got, want)
	}

	settled := outputs[1].Event.(*event.RoundSettled)
	if settled.Winner != "" || settled.PayoutAmount != 0 {
		t.Errorf("empty round has outcome: winner=%q payout=%d", settled.Winner, settled.PayoutAmount)
	}
	if outputs[1].Round.Phase != ledger.PhaseEnded {
		t.Errorf("phase: got %s, want ended", outputs[1].Round.Phase)
	}
	if outputs[1].Plan != nil {
		t.Error("empty round produced a payout plan")
	}
}

func TestRoundFailsWhenSeedSourceDies(t *testing.T) {
	h := newHarness(t, fixedSeedSource{err: errors.New("entropy exhausted")})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.runRound(context.Background()) }()

	h.depositDuringRound(t, testAlice, 1, "sig-alice")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRound: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("round did not finish")
	}

	outputs := drainEvents(h.outputs)
	var failed *event.RoundFailed
	for _, o := range outputs {
		if f, ok := o.Event.(*event.RoundFailed); ok {
			failed = f
		}
	}
	if failed == nil {
		t.Fatal("no RoundFailed event emitted")
	}
	if failed.PotTotal == 0 {
		t.Error("failed round lost its pot total")
	}
	if r := h.ledger.Current(); r.Phase != ledger.PhaseFailed {
		t.Errorf("phase: got %s, want failed", r.Phase)
	}
}

func TestConfirmAfterCutoffRejected(t *testing.T) {
	h := newHarness(t, fixedSeedSource{seed: draw.Seed{5}})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.runRound(context.Background()) }()

	// Alice lands; Bob submits but his confirmation arrives after the round
	// has ended.
	h.depositDuringRound(t, testAlice, 1, "sig-alice")

	sub, err := h.ctrl.SubmitDeposit(context.Background(), testBob, []settle.StakeRequest{
		{Symbol: "SOL", Amount: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("round did not finish")
	}

	if _, err := h.ctrl.ConfirmDeposit(sub.ID, "sig-bob"); !errors.Is(err, ErrRoundClosed) {
		t.Errorf("late confirmation: got %v, want ErrRoundClosed", err)
	}

	// Bob's stake never entered the pot.
	final := h.ledger.Current()
	for _, d := range final.Deposits {
		if d.Participant == testBob {
			t.Error("late deposit was recorded")
		}
	}
}

func TestConfirmDuringCloseWindowExcluded(t *testing.T) {
	seeds := &gatedSeedSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		seed:    draw.Seed{7},
	}
	h := newHarness(t, seeds)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.runRound(context.Background()) }()

	h.depositDuringRound(t, testAlice, 1, "sig-alice")

	sub, err := h.ctrl.SubmitDeposit(context.Background(), testBob, []settle.StakeRequest{
		{Symbol: "SOL", Amount: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The controller is now past the cutoff but has not computed the
	// commitment yet. A confirmation landing here must lose.
	select {
	case <-seeds.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("seed generation never started")
	}

	if _, err := h.ctrl.ConfirmDeposit(sub.ID, "sig-bob"); !errors.Is(err, ErrRoundClosed) {
		t.Errorf("confirmation during close window: got %v, want ErrRoundClosed", err)
	}

	close(seeds.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRound: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("round did not finish")
	}

	outputs := drainEvents(h.outputs)
	var (
		closing *event.RoundClosing
		settled *event.RoundSettled
		final   *ledger.Round
	)
	for _, o := range outputs {
		switch e := o.Event.(type) {
		case *event.RoundClosing:
			closing = e
		case *event.RoundSettled:
			settled = e
			final = o.Round
		}
	}
	if closing == nil || settled == nil {
		t.Fatal("round did not close and settle")
	}
	if len(final.Deposits) != 1 {
		t.Fatalf("frozen deposits: got %d, want 1", len(final.Deposits))
	}

	// The published commitment covers exactly the list the draw used.
	var revealed draw.Seed
	copy(revealed[:], settled.Seed)
	if !draw.VerifyCommitment(final.Deposits, revealed, closing.Commitment) {
		t.Error("commitment does not verify against the frozen deposit list")
	}
}

func TestSubmitWithoutActiveRound(t *testing.T) {
	h := newHarness(t, fixedSeedSource{seed: draw.Seed{5}})

	_, err := h.ctrl.SubmitDeposit(context.Background(), testAlice, []settle.StakeRequest{
		{Symbol: "SOL", Amount: 1},
	})
	if !errors.Is(err, ErrRoundClosed) {
		t.Errorf("submit before any round: got %v, want ErrRoundClosed", err)
	}
}

func TestConfirmDuplicateRef(t *testing.T) {
	h := newHarness(t, fixedSeedSource{seed: draw.Seed{5}})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.runRound(context.Background()) }()

	h.depositDuringRound(t, testAlice, 1, "sig-1")

	sub, err := h.ctrl.SubmitDeposit(context.Background(), testBob, []settle.StakeRequest{
		{Symbol: "SOL", Amount: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.ctrl.ConfirmDeposit(sub.ID, "sig-1"); !errors.Is(err, settle.ErrDuplicateConfirmation) {
		t.Errorf("replayed ref: got %v, want ErrDuplicateConfirmation", err)
	}

	<-done
}

func TestResumeFailsInterruptedRound(t *testing.T) {
	h := newHarness(t, fixedSeedSource{seed: draw.Seed{5}})

	interrupted := &ledger.Round{
		ID:          4,
		Phase:       ledger.PhaseActive,
		OpenedAt:    time.Now().Add(-time.Minute),
		ClosesAt:    time.Now(),
		PotTotal:    500,
		AssetTotals: map[asset.AssetID]int64{1: 500},
	}
	h.ctrl.Resume(interrupted)

	r := h.ledger.Current()
	if r.Phase != ledger.PhaseFailed {
		t.Fatalf("recovered phase: got %s, want failed", r.Phase)
	}
	if r.FailReason == "" {
		t.Error("failed round carries no reason")
	}

	outputs := drainEvents(h.outputs)
	if len(outputs) != 1 {
		t.Fatalf("outputs: got %d, want 1 RoundFailed", len(outputs))
	}
	if _, ok := outputs[0].Event.(*event.RoundFailed); !ok {
		t.Fatalf("event: got %T, want RoundFailed", outputs[0].Event)
	}

	// The next round id continues after the recovered one.
	if h.ctrl.nextID != 5 {
		t.Errorf("next round id: got %d, want 5", h.ctrl.nextID)
	}

	// A terminal recovered round needs no intervention.
	h2 := newHarness(t, fixedSeedSource{seed: draw.Seed{5}})
	h2.ctrl.Resume(&ledger.Round{ID: 9, Phase: ledger.PhaseEnded})
	if got := h2.ledger.Current().Phase; got != ledger.PhaseEnded {
		t.Errorf("terminal recovered phase: got %s, want ended", got)
	}
	if outs := drainEvents(h2.outputs); len(outs) != 0 {
		t.Errorf("terminal recovery emitted %d events", len(outs))
	}
}
