package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/models"
	"github.com/shopspring/decimal"
)

func restoredLine(units int, kilos string, allocations ...*models.Allocation) *models.OrderLine {
	return &models.OrderLine{
		ID:          7,
		ProductId:   1,
		Units:       units,
		Kilos:       decimal.RequireFromString(kilos),
		Allocations: allocations,
	}
}

func alloc(units int, costAtTime string, invoiceDetailId *int) *models.Allocation {
	return &models.Allocation{
		OrderLineId:     7,
		InvoiceDetailId: invoiceDetailId,
		Units:           units,
		UnitCostAtTime:  decimal.RequireFromString(costAtTime),
	}
}

func intPtr(v int) *int { return &v }

func TestPlanRestorationOneEntryPerAllocation(t *testing.T) {
	line := restoredLine(8, "40",
		alloc(5, "10", intPtr(11)),
		alloc(3, "20", intPtr(12)),
	)
	costs := map[int]decimal.Decimal{
		11: decimal.RequireFromString("10"),
		12: decimal.RequireFromString("20"),
	}
	headDate := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	entries := planRestoration(line, costs, headDate)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want one per allocation", len(entries))
	}
	if entries[0].RemainingUnits != 5 || !entries[0].UnitCost.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("first entry = %d @ %s, want 5 @ 10", entries[0].RemainingUnits, entries[0].UnitCost)
	}
	if entries[1].RemainingUnits != 3 || !entries[1].UnitCost.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("second entry = %d @ %s, want 3 @ 20", entries[1].RemainingUnits, entries[1].UnitCost)
	}
	for _, entry := range entries {
		if !entry.EntryDate.Before(headDate) {
			t.Fatalf("entry date = %s, want before %s", entry.EntryDate, headDate)
		}
	}
}

func TestPlanRestorationDatesAreDistinctAndOrdered(t *testing.T) {
	// Distinct dates in allocation order: a replay consumes the restored
	// layers exactly as the cancelled sale did, without leaning on the
	// random uuid tie-break.
	line := restoredLine(8, "40",
		alloc(5, "10", intPtr(11)),
		alloc(3, "20", intPtr(12)),
	)
	headDate := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	entries := planRestoration(line, map[int]decimal.Decimal{}, headDate)
	if !entries[0].EntryDate.Before(entries[1].EntryDate) {
		t.Fatalf("entry dates not ordered: %s vs %s", entries[0].EntryDate, entries[1].EntryDate)
	}
	if !entries[1].EntryDate.Equal(headDate.Add(-time.Second)) {
		t.Fatalf("last entry date = %s, want one second before %s", entries[1].EntryDate, headDate)
	}
}

func TestPlanRestorationSplitsKilosByUnits(t *testing.T) {
	line := restoredLine(8, "40",
		alloc(5, "10", intPtr(11)),
		alloc(3, "20", intPtr(12)),
	)
	entries := planRestoration(line, map[int]decimal.Decimal{}, time.Now().UTC())

	// 40 kg over 8 units: 25 and 15.
	if !entries[0].Kilos.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("first entry kilos = %s, want 25", entries[0].Kilos)
	}
	if !entries[1].Kilos.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("second entry kilos = %s, want 15", entries[1].Kilos)
	}
}

func TestPlanRestorationFallsBackToCapturedCost(t *testing.T) {
	// Invoice detail 11 is gone; the cost captured on the allocation
	// must be used so restored stock is never free.
	line := restoredLine(5, "25", alloc(5, "10", intPtr(11)))

	entries := planRestoration(line, map[int]decimal.Decimal{}, time.Now().UTC())
	if !entries[0].UnitCost.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unit cost = %s, want captured 10", entries[0].UnitCost)
	}
}

func TestPlanRestorationPrefersInvoiceCost(t *testing.T) {
	line := restoredLine(5, "25", alloc(5, "10", intPtr(11)))
	costs := map[int]decimal.Decimal{11: decimal.RequireFromString("12.5")}

	entries := planRestoration(line, costs, time.Now().UTC())
	if !entries[0].UnitCost.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unit cost = %s, want invoice 12.5", entries[0].UnitCost)
	}
}

func TestPlanRestorationZeroUnitLine(t *testing.T) {
	line := restoredLine(0, "0", alloc(0, "10", nil))

	entries := planRestoration(line, map[int]decimal.Decimal{}, time.Now().UTC())
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].Kilos.IsZero() {
		t.Fatalf("kilos = %s, want 0", entries[0].Kilos)
	}
}

func TestRestorationHeadDate(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	earliest := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if got := restorationHeadDate(earliest, true, now); !got.Equal(earliest) {
		t.Fatalf("head date = %s, want current earliest %s", got, earliest)
	}

	// Empty ledger: restored stock is simply the newest (and only) stock.
	if got := restorationHeadDate(time.Time{}, false, now); !got.Equal(now) {
		t.Fatalf("head date = %s, want now", got)
	}
}
