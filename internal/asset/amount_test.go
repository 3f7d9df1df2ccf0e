package asset_test

import (
	"PotLedger/internal/asset"
	"errors"
	"math"
	"testing"
)

func testRegistry(t *testing.T) *asset.Registry {
	t.Helper()
	return asset.DefaultRegistry()
}

func TestToRawAmount(t *testing.T) {
	r := testRegistry(t)
	sol, _ := r.BySymbol("SOL")
	usdc, _ := r.BySymbol("USDC")

	raw, err := asset.ToRawAmount(sol, 1.5)
	if err != nil {
		t.Fatalf("convert 1.5 SOL: %v", err)
	}
	if raw != 1_500_000_000 {
		t.Errorf("1.5 SOL: got %d raw, want 1_500_000_000", raw)
	}

	raw, err = asset.ToRawAmount(usdc, 0.000001)
	if err != nil {
		t.Fatalf("convert 1 micro USDC: %v", err)
	}
	if raw != 1 {
		t.Errorf("0.000001 USDC: got %d raw, want 1", raw)
	}
}

func TestToRawAmountRejectsDust(t *testing.T) {
	r := testRegistry(t)
	usdc, _ := r.BySymbol("USDC")

	// Below one raw unit of a 6-decimal asset.
	if _, err := asset.ToRawAmount(usdc, 0.0000001); !errors.Is(err, asset.ErrInvalidAmount) {
		t.Errorf("dust amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestToRawAmountRejectsNonPositive(t *testing.T) {
	r := testRegistry(t)
	sol, _ := r.BySymbol("SOL")

	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := asset.ToRawAmount(sol, amount); !errors.Is(err, asset.ErrInvalidAmount) {
			t.Errorf("amount %v: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestToRawAmountRejectsOverflow(t *testing.T) {
	r := testRegistry(t)
	sol, _ := r.BySymbol("SOL")

	if _, err := asset.ToRawAmount(sol, 1e290); !errors.Is(err, asset.ErrInvalidAmount) {
		t.Errorf("overflowing amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestFromRawAmountRoundTrip(t *testing.T) {
	r := testRegistry(t)
	usdc, _ := r.BySymbol("USDC")

	raw, err := asset.ToRawAmount(usdc, 123.456789)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	human := asset.FromRawAmount(usdc, raw)
	if math.Abs(human-123.456789) > 1e-9 {
		t.Errorf("round trip: got %v, want 123.456789", human)
	}
}

func TestValueNormalizesDecimals(t *testing.T) {
	r := testRegistry(t)
	sol, _ := r.BySymbol("SOL")
	usdc, _ := r.BySymbol("USDC")

	// One whole unit of either asset weighs exactly one value unit when
	// UnitPrice is 1.0.
	if got := asset.Value(sol, 1_000_000_000); got != asset.ValueScale {
		t.Errorf("1 SOL value: got %d, want %d", got, asset.ValueScale)
	}
	if got := asset.Value(usdc, 1_000_000); got != asset.ValueScale {
		t.Errorf("1 USDC value: got %d, want %d", got, asset.ValueScale)
	}
}

func TestValueAppliesUnitPrice(t *testing.T) {
	r := asset.NewRegistry()
	// A 6-decimal asset priced at 2.5 value units per whole unit.
	a := r.MustRegister(asset.Asset{
		Mint:      "TestMint1111111111111111111111111111111111",
		Symbol:    "TST",
		Decimals:  6,
		UnitPrice: 2_500_000_000,
	})

	if got := asset.Value(a, 2_000_000); got != 5_000_000_000 {
		t.Errorf("2 TST at 2.5: got %d, want 5_000_000_000", got)
	}
}

func TestValueOverflowYieldsZero(t *testing.T) {
	r := asset.NewRegistry()
	a := r.MustRegister(asset.Asset{
		Mint:      "OverflowMint111111111111111111111111111111",
		Symbol:    "OVR",
		Decimals:  0,
		UnitPrice: math.MaxInt64,
	})

	// The product exceeds int64; the stake must weigh nothing rather
	// than wrap to a garbage weight.
	if got := asset.Value(a, math.MaxInt64); got != 0 {
		t.Errorf("overflowing value: got %d, want 0", got)
	}
}

func TestValueNonPositiveRaw(t *testing.T) {
	r := testRegistry(t)
	sol, _ := r.BySymbol("SOL")

	if got := asset.Value(sol, 0); got != 0 {
		t.Errorf("zero raw: got %d, want 0", got)
	}
	if got := asset.Value(sol, -5); got != 0 {
		t.Errorf("negative raw: got %d, want 0", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := asset.NewRegistry()
	_, err := r.Register(asset.Asset{Mint: "MintA", Symbol: "AAA", Decimals: 6})
	if err != nil {
		t.Fatalf("first register: %v", err)
	}

	if _, err := r.Register(asset.Asset{Mint: "MintA", Symbol: "BBB", Decimals: 6}); err == nil {
		t.Error("duplicate mint accepted")
	}
	if _, err := r.Register(asset.Asset{Mint: "MintB", Symbol: "AAA", Decimals: 6}); err == nil {
		t.Error("duplicate symbol accepted")
	}
}

func TestRegistryLookups(t *testing.T) {
	r := testRegistry(t)

	sol, ok := r.BySymbol("SOL")
	if !ok {
		t.Fatal("SOL not registered")
	}
	byMint, ok := r.ByMint(asset.NativeMint)
	if !ok || byMint.ID != sol.ID {
		t.Errorf("mint lookup mismatch: %+v vs %+v", byMint, sol)
	}
	byID, ok := r.ByID(sol.ID)
	if !ok || byID.Symbol != "SOL" {
		t.Errorf("id lookup mismatch: %+v", byID)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("registry size: got %d, want 2", len(all))
	}
	if all[0].Symbol > all[1].Symbol {
		t.Errorf("All not sorted by symbol: %s, %s", all[0].Symbol, all[1].Symbol)
	}
}
