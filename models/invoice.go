package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/shopspring/decimal"
)

// PurchaseInvoice is a supplier receiving document. Each detail line
// produces exactly one FIFO cost layer when the invoice is posted.
type PurchaseInvoice struct {
	ID          int                      `gorm:"primary_key" json:"id"`
	SupplierId  int                      `gorm:"index;not null" json:"supplier_id"`
	InvoiceDate time.Time                `gorm:"not null;index" json:"invoice_date"`
	Reference   string                   `gorm:"size:100" json:"reference"`
	Comment     string                   `gorm:"type:text" json:"comment"`
	TotalCost   decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	Details     []*PurchaseInvoiceDetail `gorm:"foreignKey:InvoiceId" json:"details"`
	CreatedAt   time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseInvoiceDetail struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"index;not null" json:"invoice_id"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Units     int             `gorm:"not null" json:"units"`
	Kilos     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"kilos"`
	UnitCost  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// InvoicePayment settles a purchase invoice, possibly in instalments.
type InvoicePayment struct {
	ID          int             `gorm:"primary_key" json:"id"`
	InvoiceId   int             `gorm:"index;not null" json:"invoice_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentDate time.Time       `gorm:"not null" json:"payment_date"`
	Comment     string          `gorm:"type:text" json:"comment"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPurchaseInvoice struct {
	SupplierId  int                         `json:"supplier_id" validate:"required"`
	InvoiceDate time.Time                   `json:"invoice_date"`
	Reference   string                      `json:"reference"`
	Comment     string                      `json:"comment"`
	Details     []*NewPurchaseInvoiceDetail `json:"details" validate:"required,min=1,dive"`
}

type NewPurchaseInvoiceDetail struct {
	ProductId int             `json:"product_id" validate:"required"`
	Units     int             `json:"units"`
	Kilos     decimal.Decimal `json:"kilos"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

func (input *NewPurchaseInvoice) validate(ctx context.Context) error {
	if _, err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[Supplier](ctx, input.SupplierId); err != nil {
		return errors.New("supplier not found")
	}
	productIds := make([]int, 0, len(input.Details))
	for _, detail := range input.Details {
		if detail.Units <= 0 {
			return fmt.Errorf("%w: product_id=%d units=%d", utils.ErrInvalidQuantity, detail.ProductId, detail.Units)
		}
		if detail.Kilos.IsNegative() || detail.UnitCost.IsNegative() {
			return fmt.Errorf("%w: product_id=%d", utils.ErrInvalidQuantity, detail.ProductId)
		}
		productIds = append(productIds, detail.ProductId)
	}
	if err := utils.ValidateResourcesId[Product](ctx, utils.UniqueSlice(productIds)); err != nil {
		return utils.ErrProductNotFound
	}
	return nil
}

// CreatePurchaseInvoice posts a receiving document: the invoice, its
// detail lines and one inventory cost layer per line, atomically.
func CreatePurchaseInvoice(ctx context.Context, input *NewPurchaseInvoice) (*PurchaseInvoice, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	invoiceDate := input.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = time.Now().UTC()
	}

	invoice := PurchaseInvoice{
		SupplierId:  input.SupplierId,
		InvoiceDate: invoiceDate,
		Reference:   input.Reference,
		Comment:     input.Comment,
		TotalCost:   decimal.Zero,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer tx.Rollback()

	if err := tx.Create(&invoice).Error; err != nil {
		return nil, err
	}

	totalCost := decimal.Zero
	for _, line := range input.Details {
		detail := PurchaseInvoiceDetail{
			InvoiceId: invoice.ID,
			ProductId: line.ProductId,
			Units:     line.Units,
			Kilos:     line.Kilos,
			UnitCost:  line.UnitCost,
		}
		if err := tx.Create(&detail).Error; err != nil {
			return nil, err
		}

		entry := InventoryEntry{
			ProductId:       detail.ProductId,
			InvoiceDetailId: &detail.ID,
			RemainingUnits:  detail.Units,
			Kilos:           detail.Kilos,
			UnitCost:        detail.UnitCost,
			EntryDate:       invoiceDate,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return nil, err
		}

		totalCost = totalCost.Add(detail.UnitCost.Mul(decimal.NewFromInt(int64(detail.Units))))
		invoice.Details = append(invoice.Details, &detail)
	}

	invoice.TotalCost = totalCost
	if err := tx.Model(&PurchaseInvoice{}).Where("id = ?", invoice.ID).
		Update("total_cost", totalCost).Error; err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func GetPurchaseInvoice(ctx context.Context, id int) (*PurchaseInvoice, error) {
	db := config.GetDB()
	var invoice PurchaseInvoice
	if err := db.WithContext(ctx).Preload("Details").First(&invoice, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &invoice, nil
}

func ListPurchaseInvoices(ctx context.Context, supplierId int) ([]*PurchaseInvoice, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&PurchaseInvoice{}).Preload("Details").Order("invoice_date DESC, id DESC")
	if supplierId > 0 {
		q = q.Where("supplier_id = ?", supplierId)
	}
	var invoices []*PurchaseInvoice
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// CreateInvoicePayment records an instalment against an invoice. Paying
// more than the invoice total across all instalments is rejected.
func CreateInvoicePayment(ctx context.Context, invoiceId int, amount decimal.Decimal, paymentDate time.Time, comment string) (*InvoicePayment, error) {
	if !amount.IsPositive() {
		return nil, utils.ErrInvalidQuantity
	}
	if paymentDate.IsZero() {
		paymentDate = time.Now().UTC()
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer tx.Rollback()

	var invoice PurchaseInvoice
	if err := tx.First(&invoice, invoiceId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	// SUM over zero rows scans as NULL; NullDecimal's zero value keeps
	// the guard effective for the first payment.
	var paid decimal.NullDecimal
	if err := tx.Model(&InvoicePayment{}).Where("invoice_id = ?", invoiceId).
		Select("SUM(amount)").Scan(&paid).Error; err != nil {
		return nil, err
	}
	if paid.Decimal.Add(amount).GreaterThan(invoice.TotalCost) {
		return nil, fmt.Errorf("payment exceeds invoice total: invoice_id=%d total=%s already_paid=%s",
			invoiceId, invoice.TotalCost.String(), paid.Decimal.String())
	}

	payment := InvoicePayment{
		InvoiceId:   invoiceId,
		Amount:      amount,
		PaymentDate: paymentDate,
		Comment:     comment,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &payment, nil
}
