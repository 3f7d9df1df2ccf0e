package persistence

import (
	"PotLedger/internal/asset"
	"PotLedger/internal/event"
	"PotLedger/internal/ledger"
	"PotLedger/internal/round"
	"PotLedger/internal/settle"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeRound() *ledger.Round {
	return &ledger.Round{
		ID:          3,
		Phase:       ledger.PhaseActive,
		OpenedAt:    testTime,
		ClosesAt:    testTime.Add(time.Minute),
		PotTotal:    1_000_000_000,
		AssetTotals: map[asset.AssetID]int64{1: 1_000_000_000},
	}
}

func TestBatchKeepsLatestRoundState(t *testing.T) {
	b := newBatch()

	r := activeRound()
	b.add(round.Output{
		Event: &event.RoundOpened{Meta: event.NewMeta(3, testTime)},
		Round: r,
	})

	ended := activeRound()
	ended.Phase = ledger.PhaseEnded
	ended.ClosedAt = testTime.Add(time.Minute)
	ended.Winner = "alice"
	ended.SettledAt = testTime.Add(2 * time.Minute)
	b.add(round.Output{
		Event: &event.RoundSettled{Meta: event.NewMeta(3, testTime), Winner: "alice"},
		Round: ended,
	})

	if len(b.rounds) != 1 {
		t.Fatalf("round rows: got %d, want 1 (latest state only)", len(b.rounds))
	}
	row := b.rounds[3]
	if row.Phase != "ended" {
		t.Errorf("phase: got %s, want ended", row.Phase)
	}
	if row.Winner == nil || *row.Winner != "alice" {
		t.Errorf("winner: got %v", row.Winner)
	}
	if b.count != 2 || len(b.transitions) != 2 {
		t.Errorf("counts: count=%d transitions=%d, want 2/2", b.count, len(b.transitions))
	}
}

func TestRoundRowNullableFields(t *testing.T) {
	row := roundRow(activeRound())

	if row.ClosedAt != nil || row.Winner != nil || row.SettledAt != nil || row.FailReason != nil {
		t.Errorf("active round has non-null terminal fields: %+v", row)
	}

	failed := activeRound()
	failed.Phase = ledger.PhaseFailed
	failed.FailReason = "draw retries exhausted"
	row = roundRow(failed)
	if row.FailReason == nil || *row.FailReason != "draw retries exhausted" {
		t.Errorf("fail reason: got %v", row.FailReason)
	}
}

func TestBatchDepositRows(t *testing.T) {
	b := newBatch()
	d := ledger.Deposit{
		ID:          uuid.New(),
		RoundID:     3,
		Sequence:    7,
		Participant: "alice",
		AssetID:     1,
		Symbol:      "SOL",
		RawAmount:   2_000_000_000,
		Value:       2_000_000_000,
		AcceptedAt:  testTime,
	}

	b.add(round.Output{
		Event:    &event.DepositAccepted{Meta: event.NewMeta(3, testTime)},
		Round:    activeRound(),
		Deposits: []ledger.Deposit{d},
	})

	if len(b.deposits) != 1 {
		t.Fatalf("deposit rows: got %d, want 1", len(b.deposits))
	}
	row := b.deposits[0]
	if row.DepositID != d.ID.String() || row.Sequence != 7 || row.Symbol != "SOL" {
		t.Errorf("deposit row: %+v", row)
	}
}

func TestBatchSettlementRow(t *testing.T) {
	b := newBatch()

	plan := &settle.TransferPlan{PlanID: uuid.New(), Source: "pool", Destination: "alice"}
	ended := activeRound()
	ended.Phase = ledger.PhaseEnded
	ended.Winner = "alice"

	b.add(round.Output{
		Event: &event.RoundSettled{Meta: event.NewMeta(3, testTime), Winner: "alice"},
		Round: ended,
		Plan:  plan,
		TxRef: "sig-payout",
	})

	if len(b.settlements) != 1 {
		t.Fatalf("settlement rows: got %d, want 1", len(b.settlements))
	}
	row := b.settlements[0]
	if row.PlanID != plan.PlanID.String() || row.Winner != "alice" {
		t.Errorf("settlement row: %+v", row)
	}
	if row.TxRef == nil || *row.TxRef != "sig-payout" {
		t.Errorf("tx ref: got %v", row.TxRef)
	}

	var decoded settle.TransferPlan
	if err := json.Unmarshal(row.Plan, &decoded); err != nil {
		t.Fatalf("plan payload: %v", err)
	}
	if decoded.PlanID != plan.PlanID {
		t.Errorf("plan payload id: got %s", decoded.PlanID)
	}
}

func TestBatchSkipsSettlementWithoutPlan(t *testing.T) {
	b := newBatch()

	// A zero-deposit round settles with no plan; no settlement row.
	skipped := activeRound()
	skipped.Phase = ledger.PhaseEnded
	b.add(round.Output{
		Event: &event.RoundSettled{Meta: event.NewMeta(3, testTime)},
		Round: skipped,
	})

	if len(b.settlements) != 0 {
		t.Errorf("settlement rows: got %d, want 0", len(b.settlements))
	}
}

func TestTransitionPayloadRoundTrips(t *testing.T) {
	b := newBatch()
	evt := &event.DepositAccepted{
		Meta:        event.NewMeta(3, testTime),
		Participant: "alice",
		Symbol:      "SOL",
		RawAmount:   5,
		Value:       5,
		PotTotal:    5,
	}
	b.add(round.Output{Event: evt, Round: activeRound()})

	row := b.transitions[0]
	if row.EventID != evt.EventID().String() || row.EventType != "DepositAccepted" {
		t.Errorf("transition row: %+v", row)
	}

	var decoded event.DepositAccepted
	if err := json.Unmarshal(row.Payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.Participant != "alice" || decoded.PotTotal != 5 {
		t.Errorf("payload round trip: %+v", decoded)
	}
}
