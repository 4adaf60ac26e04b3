package models

import (
	"context"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockSnapshot is the per-product stock read model.
//
// Units come from three flows: purchase invoices receive stock,
// weighed non-cancelled order lines sell it, and unweighed lines of
// live orders reserve it without touching the FIFO ledger. The ledger
// itself only moves at receiving, weigh-in and cancellation, so
// OnHand must equal LedgerUnits plus manual adjustments; a mismatch
// means the books are broken.
type StockSnapshot struct {
	ProductId       int             `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Received        int             `json:"received"`
	Sold            int             `json:"sold"`
	Reserved        int             `json:"reserved"`
	AdjustmentUnits int             `json:"adjustment_units"`
	Available       int             `json:"available"`
	OnHand          int             `json:"on_hand"`
	LedgerUnits     int             `json:"ledger_units"`
	OnHandKilos     decimal.Decimal `json:"on_hand_kilos"`
	SoldKilos       decimal.Decimal `json:"sold_kilos"`
	InventoryValue  decimal.Decimal `json:"inventory_value"`
	BelowMinimum    bool            `json:"below_minimum"`
}

func sumInt(db *gorm.DB, dest *int) error {
	var result struct{ Total *int }
	if err := db.Scan(&result).Error; err != nil {
		return err
	}
	if result.Total != nil {
		*dest = *result.Total
	}
	return nil
}

func sumDecimal(db *gorm.DB, dest *decimal.Decimal) error {
	var result struct{ Total decimal.NullDecimal }
	if err := db.Scan(&result).Error; err != nil {
		return err
	}
	if result.Total.Valid {
		*dest = result.Total.Decimal
	}
	return nil
}

func buildStockSnapshot(ctx context.Context, db *gorm.DB, product *Product) (*StockSnapshot, error) {
	snapshot := StockSnapshot{
		ProductId:      product.ID,
		ProductName:    product.Name,
		OnHandKilos:    decimal.Zero,
		SoldKilos:      decimal.Zero,
		InventoryValue: decimal.Zero,
	}

	err := sumInt(db.WithContext(ctx).Model(&PurchaseInvoiceDetail{}).
		Select("SUM(units) AS total").
		Where("product_id = ?", product.ID), &snapshot.Received)
	if err != nil {
		return nil, err
	}

	liveOrders := db.WithContext(ctx).Model(&Order{}).
		Select("id").
		Where("status <> ?", OrderStatusCancelled)

	err = sumInt(db.WithContext(ctx).Model(&OrderLine{}).
		Select("SUM(units) AS total").
		Where("product_id = ? AND kilos > 0 AND order_id IN (?)", product.ID, liveOrders), &snapshot.Sold)
	if err != nil {
		return nil, err
	}

	err = sumDecimal(db.WithContext(ctx).Model(&OrderLine{}).
		Select("SUM(kilos) AS total").
		Where("product_id = ? AND kilos > 0 AND order_id IN (?)", product.ID, liveOrders), &snapshot.SoldKilos)
	if err != nil {
		return nil, err
	}

	err = sumInt(db.WithContext(ctx).Model(&OrderLine{}).
		Select("SUM(units) AS total").
		Where("product_id = ? AND kilos = 0 AND order_id IN (?)", product.ID, liveOrders), &snapshot.Reserved)
	if err != nil {
		return nil, err
	}

	err = sumInt(db.WithContext(ctx).Model(&InventoryAdjustment{}).
		Select("SUM(units) AS total").
		Where("product_id = ?", product.ID), &snapshot.AdjustmentUnits)
	if err != nil {
		return nil, err
	}

	err = sumInt(db.WithContext(ctx).Model(&InventoryEntry{}).
		Select("SUM(remaining_units) AS total").
		Where("product_id = ?", product.ID), &snapshot.LedgerUnits)
	if err != nil {
		return nil, err
	}

	err = sumDecimal(db.WithContext(ctx).Model(&InventoryEntry{}).
		Select("SUM(kilos) AS total").
		Where("product_id = ?", product.ID), &snapshot.OnHandKilos)
	if err != nil {
		return nil, err
	}

	err = sumDecimal(db.WithContext(ctx).Model(&InventoryEntry{}).
		Select("SUM(remaining_units * unit_cost) AS total").
		Where("product_id = ?", product.ID), &snapshot.InventoryValue)
	if err != nil {
		return nil, err
	}

	snapshot.OnHand = snapshot.Received - snapshot.Sold + snapshot.AdjustmentUnits
	snapshot.Available = snapshot.OnHand - snapshot.Reserved
	snapshot.BelowMinimum = product.MinimumWeight.IsPositive() &&
		snapshot.OnHandKilos.LessThan(product.MinimumWeight)

	return &snapshot, nil
}

func GetStockSnapshot(ctx context.Context, productId int) (*StockSnapshot, error) {
	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).First(&product, productId).Error; err != nil {
		return nil, utils.ErrProductNotFound
	}
	return buildStockSnapshot(ctx, db, &product)
}

func ListStockSnapshots(ctx context.Context) ([]*StockSnapshot, error) {
	db := config.GetDB()
	var products []*Product
	if err := db.WithContext(ctx).Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	snapshots := make([]*StockSnapshot, 0, len(products))
	for _, product := range products {
		snapshot, err := buildStockSnapshot(ctx, db, product)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}
