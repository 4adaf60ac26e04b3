package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryEntry is one FIFO cost layer. Allocation consumes layers in
// entry_date order and deletes a layer when its remaining units reach
// zero; cancellation restores stock by inserting fresh layers, never by
// resurrecting consumed ones.
type InventoryEntry struct {
	ID              string          `gorm:"primary_key;size:36" json:"id"`
	ProductId       int             `gorm:"not null;index:idx_inventory_product_entry_date,priority:1" json:"product_id"`
	InvoiceDetailId *int            `gorm:"index" json:"invoice_detail_id"`
	RemainingUnits  int             `gorm:"not null" json:"remaining_units"`
	Kilos           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"kilos"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	EntryDate       time.Time       `gorm:"not null;index:idx_inventory_product_entry_date,priority:2" json:"entry_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (e *InventoryEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (e *InventoryEntry) BeforeSave(tx *gorm.DB) error {
	if e.RemainingUnits < 0 {
		return errors.New("inventory entry remaining units below zero")
	}
	if e.Kilos.IsNegative() || e.UnitCost.IsNegative() {
		return errors.New("inventory entry kilos and unit cost must be non-negative")
	}
	return nil
}

// InventoryAdjustment records manual stock corrections outside the
// purchase/sale flow (spoilage, recounts). Units may be negative.
type InventoryAdjustment struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ProductId  int             `gorm:"index;not null" json:"product_id"`
	Units      int             `gorm:"not null" json:"units"`
	Kilos      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kilos"`
	Reason     string          `gorm:"size:255" json:"reason"`
	AdjustedAt time.Time       `gorm:"not null" json:"adjusted_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// FetchEntriesForUpdate loads a product's cost layers oldest first, row
// locked for the life of tx. Callers must hold the product posting lock.
func FetchEntriesForUpdate(tx *gorm.DB, productId int) ([]*InventoryEntry, error) {
	var entries []*InventoryEntry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productId).
		Order("entry_date ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EarliestEntryDate returns the oldest layer date for a product, or
// found=false when the ledger is empty.
func EarliestEntryDate(tx *gorm.DB, productId int) (time.Time, bool, error) {
	var entry InventoryEntry
	err := tx.Where("product_id = ?", productId).
		Order("entry_date ASC, id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return entry.EntryDate, true, nil
}

func CreateInventoryAdjustment(ctx context.Context, productId, units int, kilos decimal.Decimal, reason string) (*InventoryAdjustment, error) {
	if units == 0 && kilos.IsZero() {
		return nil, errors.New("adjustment must change units or kilos")
	}
	adjustment := InventoryAdjustment{
		ProductId:  productId,
		Units:      units,
		Kilos:      kilos,
		Reason:     reason,
		AdjustedAt: time.Now().UTC(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&adjustment).Error; err != nil {
		return nil, err
	}
	return &adjustment, nil
}
