package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/models"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// planRestoration builds the inventory entries that undo one weighed
// order line: one fresh entry per allocation, so the restored layers
// mirror the layers the sale consumed. Cost comes from the source
// invoice detail when it still exists, otherwise from the cost captured
// on the allocation. Kilos are the line's weighed kilos split across
// allocations in proportion to units; a zero-unit line restores zero
// kilos.
//
// Entry dates count up to one second before headDate, in allocation
// order, so the restored layers are consumed again in the order the
// sale took them and replays stay deterministic (the FIFO tie-break on
// uuid ids is random).
func planRestoration(line *models.OrderLine, invoiceCosts map[int]decimal.Decimal, headDate time.Time) []*models.InventoryEntry {
	entries := make([]*models.InventoryEntry, 0, len(line.Allocations))
	for i, alloc := range line.Allocations {
		entryDate := headDate.Add(-time.Duration(len(line.Allocations)-i) * time.Second)
		unitCost := alloc.UnitCostAtTime
		if alloc.InvoiceDetailId != nil {
			if cost, found := invoiceCosts[*alloc.InvoiceDetailId]; found {
				unitCost = cost
			}
		}

		kilos := decimal.Zero
		if line.Units > 0 {
			kilos = line.Kilos.
				Mul(decimal.NewFromInt(int64(alloc.Units))).
				Div(decimal.NewFromInt(int64(line.Units)))
		}

		entries = append(entries, &models.InventoryEntry{
			ProductId:       line.ProductId,
			InvoiceDetailId: alloc.InvoiceDetailId,
			RemainingUnits:  alloc.Units,
			Kilos:           kilos,
			UnitCost:        unitCost,
			EntryDate:       entryDate,
		})
	}
	return entries
}

// restorationHeadDate picks the exclusive upper bound for restored
// entry dates: the current earliest layer, or now when the ledger is
// empty. Restored stock always lands at the front of the FIFO queue.
func restorationHeadDate(earliest time.Time, found bool, now time.Time) time.Time {
	if !found {
		return now
	}
	return earliest
}

// CancelOrder cancels an order and restores the stock its weighed lines
// consumed. Order, lines and allocations are kept; only the status
// changes, and the ledger gains fresh front-of-queue layers. Cancelling
// an already cancelled order fails with ErrAlreadyCancelled and
// restores nothing.
func CancelOrder(ctx context.Context, logger *logrus.Logger, orderId int) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "workflow.CancelOrder")
	defer span.End()

	current, err := models.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}

	productIds := make([]int, 0, len(current.Lines))
	for _, line := range current.Lines {
		productIds = append(productIds, line.ProductId)
	}
	productIds = utils.UniqueSlice(productIds)

	release, err := utils.ProductsLock(ctx, productIds, "reversal.go", "CancelOrder")
	if err != nil {
		config.LogError(logger, "reversal.go", "CancelOrder", "ProductsLock", orderId, err)
	} else {
		defer release()
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer tx.Rollback()

	if err := AcquireProductPostingLocks(tx, productIds); err != nil {
		config.LogError(logger, "reversal.go", "CancelOrder", "AcquireProductPostingLocks", productIds, err)
		return nil, err
	}
	defer ReleaseProductPostingLocks(tx, productIds)

	order, err := models.GetOrderForUpdate(tx, orderId)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order_id=%d", utils.ErrAlreadyCancelled, orderId)
	}
	if !order.Status.CanTransitionTo(models.OrderStatusCancelled) {
		return nil, fmt.Errorf("cannot cancel order_id=%d in status %s", orderId, order.Status)
	}

	now := time.Now().UTC()
	for _, line := range order.Lines {
		if len(line.Allocations) == 0 {
			// Reservation only, nothing was taken from the ledger.
			continue
		}

		invoiceCosts, err := invoiceDetailCosts(tx, line.Allocations)
		if err != nil {
			config.LogError(logger, "reversal.go", "CancelOrder", "invoiceDetailCosts", line.ID, err)
			return nil, err
		}

		earliest, found, err := models.EarliestEntryDate(tx, line.ProductId)
		if err != nil {
			config.LogError(logger, "reversal.go", "CancelOrder", "EarliestEntryDate", line.ProductId, err)
			return nil, err
		}
		headDate := restorationHeadDate(earliest, found, now)

		for _, entry := range planRestoration(line, invoiceCosts, headDate) {
			if err := tx.Create(entry).Error; err != nil {
				config.LogError(logger, "reversal.go", "CancelOrder", "Create Entry", line.ID, err)
				return nil, err
			}
		}
	}

	oldStatus := order.Status
	err = tx.Model(&models.Order{}).Where("id = ?", orderId).
		Update("status", models.OrderStatusCancelled).Error
	if err != nil {
		config.LogError(logger, "reversal.go", "CancelOrder", "Update Status", orderId, err)
		return nil, err
	}
	order.Status = models.OrderStatusCancelled

	event, err := models.RecordOrderEvent(ctx, tx, models.OrderEventCancelled, order, oldStatus)
	if err != nil {
		config.LogError(logger, "reversal.go", "CancelOrder", "RecordOrderEvent", orderId, err)
		return nil, err
	}

	// Release on the live connection; RELEASE_LOCK cannot run on a
	// committed tx.
	ReleaseProductPostingLocks(tx, productIds)
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	PublishEventDirect(ctx, logger, event)
	return order, nil
}

// invoiceDetailCosts resolves the current unit cost of the invoice
// details a set of allocations came from. Details deleted since the
// sale are simply absent from the map.
func invoiceDetailCosts(tx *gorm.DB, allocations []*models.Allocation) (map[int]decimal.Decimal, error) {
	detailIds := make([]int, 0, len(allocations))
	for _, alloc := range allocations {
		if alloc.InvoiceDetailId != nil {
			detailIds = append(detailIds, *alloc.InvoiceDetailId)
		}
	}
	costs := make(map[int]decimal.Decimal)
	if len(detailIds) == 0 {
		return costs, nil
	}
	var details []*models.PurchaseInvoiceDetail
	if err := tx.Where("id IN ?", utils.UniqueSlice(detailIds)).Find(&details).Error; err != nil {
		return nil, err
	}
	for _, detail := range details {
		costs[detail.ID] = detail.UnitCost
	}
	return costs, nil
}
