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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer trace.Tracer = otel.Tracer("meatsales-backend")

// CreateOrder posts a sales order atomically. Lines arriving with kilos
// already known are allocated against the FIFO ledger immediately;
// zero-kilos lines are reservations and leave the ledger untouched
// until WeighOrder. Any failure rolls back the whole order.
func CreateOrder(ctx context.Context, logger *logrus.Logger, input *models.NewOrder) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "workflow.CreateOrder")
	defer span.End()

	if err := input.Validate(ctx); err != nil {
		return nil, err
	}
	customer, err := models.GetCustomer(ctx, input.CustomerId)
	if err != nil {
		return nil, err
	}

	productIds := input.ProductIds()
	release, err := utils.ProductsLock(ctx, productIds, "orderWorkflow.go", "CreateOrder")
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "CreateOrder", "ProductsLock", productIds, err)
	} else {
		defer release()
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer tx.Rollback()

	if err := AcquireProductPostingLocks(tx, productIds); err != nil {
		config.LogError(logger, "orderWorkflow.go", "CreateOrder", "AcquireProductPostingLocks", productIds, err)
		return nil, err
	}
	defer ReleaseProductPostingLocks(tx, productIds)

	order := models.Order{
		CustomerId: customer.ID,
		SellerId:   customer.SellerId,
		Status:     models.OrderStatusReserved,
		OrderDate:  orderDate,
		Comment:    input.Comment,
		TotalSale:  decimal.Zero,
		TotalCost:  decimal.Zero,
	}
	if err := tx.Create(&order).Error; err != nil {
		config.LogError(logger, "orderWorkflow.go", "CreateOrder", "Create Order", input, err)
		return nil, err
	}

	for _, lineInput := range input.Lines {
		line := models.OrderLine{
			OrderId:   order.ID,
			ProductId: lineInput.ProductId,
			Units:     lineInput.Units,
			Kilos:     decimal.Zero,
		}
		if err := tx.Create(&line).Error; err != nil {
			config.LogError(logger, "orderWorkflow.go", "CreateOrder", "Create Line", lineInput, err)
			return nil, err
		}
		if lineInput.Kilos.IsPositive() {
			if err := weighLine(ctx, tx, logger, &line, lineInput.Kilos); err != nil {
				return nil, err
			}
		}
		order.Lines = append(order.Lines, &line)
	}

	// Kilos known for every line up front means the order skips the
	// reservation stage entirely.
	if orderFullyWeighed(&order) {
		err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", models.OrderStatusPrepared).Error
		if err != nil {
			config.LogError(logger, "orderWorkflow.go", "CreateOrder", "Update Status", order.ID, err)
			return nil, err
		}
		order.Status = models.OrderStatusPrepared
	}

	if err := repriceOrder(tx, &order); err != nil {
		config.LogError(logger, "orderWorkflow.go", "CreateOrder", "repriceOrder", order.ID, err)
		return nil, err
	}

	event, err := models.RecordOrderEvent(ctx, tx, models.OrderEventCreated, &order, "")
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "CreateOrder", "RecordOrderEvent", order.ID, err)
		return nil, err
	}

	// Release on the live connection: after Commit the tx is done and
	// RELEASE_LOCK would never reach MySQL. Row locks still guard the
	// ledger until commit.
	ReleaseProductPostingLocks(tx, productIds)
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	PublishEventDirect(ctx, logger, event)
	return &order, nil
}

// LineWeight is one weigh-in measurement for an order line.
type LineWeight struct {
	OrderLineId int             `json:"order_line_id" validate:"required"`
	Kilos       decimal.Decimal `json:"kilos"`
}

// WeighOrder records weigh-in results: each named line gets its kilos,
// its FIFO allocation and its sale price. When every line of the order
// is weighed the order moves Reserved -> Prepared. A line can only be
// weighed once.
func WeighOrder(ctx context.Context, logger *logrus.Logger, orderId int, weights []*LineWeight) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "workflow.WeighOrder")
	defer span.End()

	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no weights given for order_id=%d", utils.ErrInvalidQuantity, orderId)
	}

	current, err := models.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	productIds := make([]int, 0, len(current.Lines))
	for _, line := range current.Lines {
		productIds = append(productIds, line.ProductId)
	}
	productIds = utils.UniqueSlice(productIds)

	release, err := utils.ProductsLock(ctx, productIds, "orderWorkflow.go", "WeighOrder")
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "WeighOrder", "ProductsLock", productIds, err)
	} else {
		defer release()
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer tx.Rollback()

	if err := AcquireProductPostingLocks(tx, productIds); err != nil {
		config.LogError(logger, "orderWorkflow.go", "WeighOrder", "AcquireProductPostingLocks", productIds, err)
		return nil, err
	}
	defer ReleaseProductPostingLocks(tx, productIds)

	order, err := models.GetOrderForUpdate(tx, orderId)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusReserved {
		return nil, fmt.Errorf("cannot weigh order_id=%d in status %s", orderId, order.Status)
	}

	linesById := make(map[int]*models.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		linesById[line.ID] = line
	}

	for _, weight := range weights {
		line, found := linesById[weight.OrderLineId]
		if !found {
			return nil, fmt.Errorf("order_line_id=%d does not belong to order_id=%d", weight.OrderLineId, orderId)
		}
		if line.IsWeighed() {
			return nil, fmt.Errorf("order_line_id=%d is already weighed", line.ID)
		}
		if !weight.Kilos.IsPositive() {
			return nil, fmt.Errorf("%w: order_line_id=%d kilos=%s", utils.ErrInvalidQuantity, line.ID, weight.Kilos.String())
		}
		if err := weighLine(ctx, tx, logger, line, weight.Kilos); err != nil {
			return nil, err
		}
	}

	oldStatus := order.Status
	if orderFullyWeighed(order) {
		err := tx.Model(&models.Order{}).Where("id = ?", orderId).
			Update("status", models.OrderStatusPrepared).Error
		if err != nil {
			config.LogError(logger, "orderWorkflow.go", "WeighOrder", "Update Status", orderId, err)
			return nil, err
		}
		order.Status = models.OrderStatusPrepared
	}

	if err := repriceOrder(tx, order); err != nil {
		config.LogError(logger, "orderWorkflow.go", "WeighOrder", "repriceOrder", orderId, err)
		return nil, err
	}

	event, err := models.RecordOrderEvent(ctx, tx, models.OrderEventWeighed, order, oldStatus)
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "WeighOrder", "RecordOrderEvent", orderId, err)
		return nil, err
	}

	ReleaseProductPostingLocks(tx, productIds)
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	PublishEventDirect(ctx, logger, event)
	return order, nil
}

// MarkOrderPaid settles a prepared order. Paid is terminal.
func MarkOrderPaid(ctx context.Context, logger *logrus.Logger, orderId int) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "workflow.MarkOrderPaid")
	defer span.End()

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer tx.Rollback()

	order, err := models.GetOrderForUpdate(tx, orderId)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(models.OrderStatusPaid) {
		return nil, fmt.Errorf("cannot mark order_id=%d paid in status %s", orderId, order.Status)
	}

	oldStatus := order.Status
	err = tx.Model(&models.Order{}).Where("id = ?", orderId).
		Update("status", models.OrderStatusPaid).Error
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "MarkOrderPaid", "Update Status", orderId, err)
		return nil, err
	}
	order.Status = models.OrderStatusPaid

	event, err := models.RecordOrderEvent(ctx, tx, models.OrderEventPaid, order, oldStatus)
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "MarkOrderPaid", "RecordOrderEvent", orderId, err)
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	PublishEventDirect(ctx, logger, event)
	return order, nil
}

func orderFullyWeighed(order *models.Order) bool {
	for _, line := range order.Lines {
		if !line.IsWeighed() {
			return false
		}
	}
	return true
}

// weighLine allocates FIFO stock for a line and prices it. The sale
// price per kilo is captured from the product at weigh-in time, so a
// later price change never touches existing lines.
func weighLine(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, line *models.OrderLine, kilos decimal.Decimal) error {
	pricing, err := models.GetProductPricing(ctx, line.ProductId)
	if err != nil {
		return err
	}
	if pricing.MinimumWeight.IsPositive() && kilos.LessThan(pricing.MinimumWeight) {
		return fmt.Errorf("%w: order_line_id=%d kilos=%s below minimum weight %s",
			utils.ErrInvalidQuantity, line.ID, kilos.String(), pricing.MinimumWeight.String())
	}

	result, err := AllocateProduct(tx, logger, line.ProductId, line.Units)
	if err != nil {
		return err
	}

	line.Kilos = kilos
	line.UnitSalePrice = pricing.PricePerKilo
	line.UnitCostAtTime = result.UnitCost
	err = tx.Model(&models.OrderLine{}).Where("id = ?", line.ID).
		Updates(map[string]interface{}{
			"kilos":             line.Kilos,
			"unit_sale_price":   line.UnitSalePrice,
			"unit_cost_at_time": line.UnitCostAtTime,
		}).Error
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "weighLine", "Update Line", line.ID, err)
		return err
	}

	for _, alloc := range result.Allocations {
		alloc.OrderLineId = line.ID
		if err := tx.Create(alloc).Error; err != nil {
			config.LogError(logger, "orderWorkflow.go", "weighLine", "Create Allocation", line.ID, err)
			return err
		}
		line.Allocations = append(line.Allocations, alloc)
	}
	return nil
}

// repriceOrder recomputes order totals from its lines. Sale is kilos
// times the captured per-kilo price; cost is units times the FIFO unit
// cost captured at allocation.
func repriceOrder(tx *gorm.DB, order *models.Order) error {
	totalSale := decimal.Zero
	totalCost := decimal.Zero
	for _, line := range order.Lines {
		totalSale = totalSale.Add(line.LineSale())
		totalCost = totalCost.Add(line.UnitCostAtTime.Mul(decimal.NewFromInt(int64(line.Units))))
	}
	order.TotalSale = totalSale
	order.TotalCost = totalCost
	return tx.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"total_sale": totalSale,
			"total_cost": totalCost,
		}).Error
}
