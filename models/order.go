package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order is a customer sales order. Lines and allocations are append
// only: cancellation flips the status and restores stock but never
// deletes rows, so the full allocation history stays auditable.
type Order struct {
	ID         int             `gorm:"primary_key" json:"id"`
	CustomerId int             `gorm:"index;not null" json:"customer_id"`
	SellerId   int             `gorm:"index;not null" json:"seller_id"`
	Status     OrderStatus     `gorm:"type:enum('Reserved','Prepared','Paid','Cancelled');default:Reserved;index" json:"status"`
	OrderDate  time.Time       `gorm:"not null;index" json:"order_date"`
	Comment    string          `gorm:"type:text" json:"comment"`
	TotalSale  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_sale"`
	TotalCost  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	Lines      []*OrderLine    `gorm:"foreignKey:OrderId" json:"lines"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderLine sells Units of a product. Kilos stays zero until weigh-in;
// a zero-kilos line is a reservation and holds no FIFO allocations yet.
type OrderLine struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrderId        int             `gorm:"index;not null" json:"order_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	Units          int             `gorm:"not null" json:"units"`
	Kilos          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kilos"`
	UnitSalePrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_sale_price"`
	UnitCostAtTime decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost_at_time"`
	Allocations    []*Allocation   `gorm:"foreignKey:OrderLineId" json:"allocations"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// LineSale is the sale amount of this line: kilos times per-kilo price.
func (l *OrderLine) LineSale() decimal.Decimal {
	return l.Kilos.Mul(l.UnitSalePrice)
}

// IsWeighed reports whether the line has gone through weigh-in and
// therefore holds FIFO allocations.
func (l *OrderLine) IsWeighed() bool {
	return !l.Kilos.IsZero()
}

// Allocation records units taken from one FIFO layer for one order
// line, with the layer's cost and source invoice detail captured at
// allocation time. The referenced entry may be deleted later; the
// captured fields survive it.
type Allocation struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrderLineId      int             `gorm:"index;not null" json:"order_line_id"`
	InventoryEntryId string          `gorm:"size:36;index" json:"inventory_entry_id"`
	InvoiceDetailId  *int            `gorm:"index" json:"invoice_detail_id"`
	Units            int             `gorm:"not null" json:"units"`
	UnitCostAtTime   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost_at_time"`
	EntryDate        time.Time       `gorm:"not null" json:"entry_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewOrder struct {
	CustomerId int             `json:"customer_id" validate:"required"`
	OrderDate  time.Time       `json:"order_date"`
	Comment    string          `json:"comment"`
	Lines      []*NewOrderLine `json:"lines" validate:"required,min=1,dive"`
}

type NewOrderLine struct {
	ProductId int             `json:"product_id" validate:"required"`
	Units     int             `json:"units"`
	Kilos     decimal.Decimal `json:"kilos"`
}

func (input *NewOrder) Validate(ctx context.Context) error {
	if _, err := utils.ValidateStruct(input); err != nil {
		return err
	}
	productIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.Units <= 0 {
			return utils.ErrInvalidQuantity
		}
		if line.Kilos.IsNegative() {
			return utils.ErrInvalidQuantity
		}
		productIds = append(productIds, line.ProductId)
	}
	if err := utils.ValidateResourcesId[Product](ctx, utils.UniqueSlice(productIds)); err != nil {
		return utils.ErrProductNotFound
	}
	return nil
}

// ProductIds returns the distinct products the order touches, for lock
// acquisition.
func (input *NewOrder) ProductIds() []int {
	ids := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		ids = append(ids, line.ProductId)
	}
	return utils.UniqueSlice(ids)
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).
		Preload("Lines").
		Preload("Lines.Allocations").
		First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate loads an order with its lines and allocations, row
// locked inside tx. Used by the weigh-in, payment and cancellation
// paths.
func GetOrderForUpdate(tx *gorm.DB, id int) (*Order, error) {
	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("order_id = ?", id).Order("id").Find(&order.Lines).Error; err != nil {
		return nil, err
	}
	lineIds := make([]int, 0, len(order.Lines))
	for _, line := range order.Lines {
		lineIds = append(lineIds, line.ID)
	}
	if len(lineIds) > 0 {
		var allocations []*Allocation
		if err := tx.Where("order_line_id IN ?", lineIds).Order("id").Find(&allocations).Error; err != nil {
			return nil, err
		}
		byLine := make(map[int][]*Allocation, len(lineIds))
		for _, a := range allocations {
			byLine[a.OrderLineId] = append(byLine[a.OrderLineId], a)
		}
		for _, line := range order.Lines {
			line.Allocations = byLine[line.ID]
		}
	}
	return &order, nil
}

// UpdateOrderComment edits the free-text comment on an order. Terminal
// orders are never editable; with STRICT_ORDER_DOC_IMMUTABLE set a
// Prepared order is frozen too.
func UpdateOrderComment(ctx context.Context, id int, comment string) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, errors.New("cannot edit a terminal order")
	}
	if order.Status != OrderStatusReserved && config.StrictOrderDocImmutability() {
		return nil, errors.New("order is frozen after weigh-in")
	}
	if err := db.WithContext(ctx).Model(&order).Update("comment", comment).Error; err != nil {
		return nil, err
	}
	order.Comment = comment
	return &order, nil
}

type OrderFilter struct {
	CustomerId int
	Status     OrderStatus
	From       time.Time
	To         time.Time
}

func ListOrders(ctx context.Context, filter *OrderFilter) ([]*Order, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&Order{}).Preload("Lines").Order("order_date DESC, id DESC")
	if filter != nil {
		if filter.CustomerId > 0 {
			q = q.Where("customer_id = ?", filter.CustomerId)
		}
		if filter.Status != "" {
			if !filter.Status.IsValid() {
				return nil, errors.New("invalid order status")
			}
			q = q.Where("status = ?", filter.Status)
		}
		if !filter.From.IsZero() {
			q = q.Where("order_date >= ?", filter.From)
		}
		if !filter.To.IsZero() {
			q = q.Where("order_date < ?", filter.To)
		}
	}
	var orders []*Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
