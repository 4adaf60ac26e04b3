package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/models"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// entryTake is one FIFO consumption step: Units taken from Entry, with
// the proportional share of the layer's kilos.
type entryTake struct {
	Entry      *models.InventoryEntry
	Units      int
	KilosTaken decimal.Decimal
}

// AllocationResult is what FIFO allocation of one product line yields.
// Allocations carry the per-layer provenance rows; the caller fills in
// OrderLineId before persisting them.
type AllocationResult struct {
	TotalCost   decimal.Decimal
	UnitCost    decimal.Decimal
	Allocations []*models.Allocation
}

// consumeEntries walks the cost layers oldest first and plans the
// consumption of requested units. Availability is checked before any
// layer is touched, so an insufficient ledger never yields a partial
// plan. Entries are mutated in place: remaining units and kilos drop
// by what was taken.
func consumeEntries(entries []*models.InventoryEntry, requested int) ([]entryTake, decimal.Decimal, error) {
	available := 0
	for _, entry := range entries {
		available += entry.RemainingUnits
	}
	if available < requested {
		return nil, decimal.Zero, fmt.Errorf("%w: insufficient FIFO layers qty_requested=%d qty_missing=%d",
			utils.ErrInsufficientStock, requested, requested-available)
	}

	var takes []entryTake
	totalCost := decimal.Zero
	needed := requested
	for _, entry := range entries {
		if needed == 0 {
			break
		}
		taken := entry.RemainingUnits
		if taken > needed {
			taken = needed
		}

		// The layer's kilos shrink in proportion to the units taken.
		kilosTaken := entry.Kilos
		if taken < entry.RemainingUnits {
			kilosTaken = entry.Kilos.
				Mul(decimal.NewFromInt(int64(taken))).
				Div(decimal.NewFromInt(int64(entry.RemainingUnits)))
		}

		totalCost = totalCost.Add(entry.UnitCost.Mul(decimal.NewFromInt(int64(taken))))
		takes = append(takes, entryTake{Entry: entry, Units: taken, KilosTaken: kilosTaken})

		entry.RemainingUnits -= taken
		entry.Kilos = entry.Kilos.Sub(kilosTaken)
		needed -= taken
	}
	return takes, totalCost, nil
}

// AllocateProduct consumes FIFO layers for units of a product inside
// tx. Fully drained layers are deleted; a partially drained layer keeps
// its identity with reduced remaining units. Callers must hold the
// product posting lock for productId.
func AllocateProduct(tx *gorm.DB, logger *logrus.Logger, productId int, units int) (*AllocationResult, error) {
	if units < 0 {
		return nil, fmt.Errorf("%w: product_id=%d units=%d", utils.ErrInvalidQuantity, productId, units)
	}
	if units == 0 {
		return &AllocationResult{TotalCost: decimal.Zero, UnitCost: decimal.Zero}, nil
	}

	entries, err := models.FetchEntriesForUpdate(tx, productId)
	if err != nil {
		config.LogError(logger, "allocation.go", "AllocateProduct", "FetchEntriesForUpdate", productId, err)
		return nil, err
	}

	takes, totalCost, err := consumeEntries(entries, units)
	if err != nil {
		return nil, fmt.Errorf("product_id=%d: %w", productId, err)
	}

	result := AllocationResult{
		TotalCost: totalCost,
		UnitCost:  totalCost.Div(decimal.NewFromInt(int64(units))),
	}
	for _, take := range takes {
		entry := take.Entry
		if entry.RemainingUnits == 0 {
			if err := tx.Delete(&models.InventoryEntry{}, "id = ?", entry.ID).Error; err != nil {
				config.LogError(logger, "allocation.go", "AllocateProduct", "Delete Entry", entry.ID, err)
				return nil, err
			}
		} else {
			err := tx.Model(&models.InventoryEntry{}).Where("id = ?", entry.ID).
				Updates(map[string]interface{}{
					"remaining_units": entry.RemainingUnits,
					"kilos":           entry.Kilos,
				}).Error
			if err != nil {
				config.LogError(logger, "allocation.go", "AllocateProduct", "Update Entry", entry.ID, err)
				return nil, err
			}
		}

		result.Allocations = append(result.Allocations, &models.Allocation{
			InventoryEntryId: entry.ID,
			InvoiceDetailId:  entry.InvoiceDetailId,
			Units:            take.Units,
			UnitCostAtTime:   entry.UnitCost,
			EntryDate:        entry.EntryDate,
		})
	}
	return &result, nil
}
