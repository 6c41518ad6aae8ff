package fees

import (
	"testing"
)

func TestNewPriceModel(t *testing.T) {
	m := NewPriceModel(100, 1, 10_000)
	if got := m.MinGasUnitPrice(); got != 100 {
		t.Fatalf("expected starting price 100, got %d", got)
	}
	if got := NewPriceModel(0, 5, 10).MinGasUnitPrice(); got != 5 {
		t.Fatalf("start below floor should clamp to 5, got %d", got)
	}
	if got := NewPriceModel(50, 5, 10).MinGasUnitPrice(); got != 10 {
		t.Fatalf("start above ceiling should clamp to 10, got %d", got)
	}
}

func TestPriceIncreasesOnHighUtilization(t *testing.T) {
	m := NewPriceModel(100, 1, 10_000)
	initial := m.MinGasUnitPrice()

	// Simulate full blocks
	for i := 0; i < 10; i++ {
		m.AdjustAfterBlock(6_000, 6_000)
	}
	if m.MinGasUnitPrice() <= initial {
		t.Fatal("price should increase on high utilization")
	}
}

func TestPriceDecreasesOnLowUtilization(t *testing.T) {
	m := NewPriceModel(100, 1, 10_000)
	initial := m.MinGasUnitPrice()

	// Simulate empty blocks
	for i := 0; i < 10; i++ {
		m.AdjustAfterBlock(0, 6_000)
	}
	if m.MinGasUnitPrice() >= initial {
		t.Fatal("price should decrease on low utilization")
	}
}

func TestPriceBounds(t *testing.T) {
	m := NewPriceModel(100, 7, 400)
	for i := 0; i < 1000; i++ {
		m.AdjustAfterBlock(0, 6_000)
	}
	if got := m.MinGasUnitPrice(); got != 7 {
		t.Fatalf("price %d should settle at floor 7", got)
	}
	for i := 0; i < 1000; i++ {
		m.AdjustAfterBlock(6_000, 6_000)
	}
	if got := m.MinGasUnitPrice(); got != 400 {
		t.Fatalf("price %d should settle at ceiling 400", got)
	}
}

func TestSmallPriceStillRises(t *testing.T) {
	m := NewPriceModel(1, 1, 10_000)
	for i := 0; i < 5; i++ {
		m.AdjustAfterBlock(6_000, 6_000)
	}
	if m.MinGasUnitPrice() <= 1 {
		t.Fatal("price stuck at 1 under full blocks")
	}
}

func TestPriceStableAt50Percent(t *testing.T) {
	m := NewPriceModel(1_000, 1, 10_000)
	for i := 0; i < 20; i++ {
		m.AdjustAfterBlock(3_000, 6_000)
	}
	if got := m.MinGasUnitPrice(); got != 1_000 {
		t.Fatalf("price should stay at 1000 at 50%% utilization, got %d", got)
	}
}

func TestZeroGasLimitIgnored(t *testing.T) {
	m := NewPriceModel(100, 1, 10_000)
	if got := m.AdjustAfterBlock(10, 0); got != 100 {
		t.Fatalf("expected unchanged price, got %d", got)
	}
}

func TestFeeStats(t *testing.T) {
	m := NewPriceModel(100, 1, 10_000)
	stats := m.Stats()

	if stats.MinGasUnitPrice != 100 || stats.Floor != 1 || stats.Ceiling != 10_000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.TargetUsage != 0.5 {
		t.Fatalf("expected 0.5 target, got %f", stats.TargetUsage)
	}
}
