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

type Product struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:255;not null;uniqueIndex" json:"name" validate:"required"`
	Description   string          `gorm:"type:text" json:"description"`
	Category      string          `gorm:"size:100;index" json:"category"`
	PricePerKilo  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price_per_kilo"`
	MinimumWeight decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_weight"`
	State         ProductState    `gorm:"type:enum('Active','Inactive');default:Active" json:"state"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	PricePerKilo  decimal.Decimal `json:"price_per_kilo"`
	MinimumWeight decimal.Decimal `json:"minimum_weight"`
	State         ProductState    `json:"state"`
}

// ProductPricing is the read-only lookup the allocation path needs;
// cached in redis and invalidated on product update.
type ProductPricing struct {
	ID            int             `json:"id"`
	Name          string          `json:"name"`
	PricePerKilo  decimal.Decimal `json:"price_per_kilo"`
	MinimumWeight decimal.Decimal `json:"minimum_weight"`
}

func productPricingKey(productId int) string {
	return fmt.Sprintf("productPricing:%d", productId)
}

func (input *NewProduct) validate() error {
	if _, err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.PricePerKilo.IsNegative() || input.MinimumWeight.IsNegative() {
		return utils.ErrInvalidQuantity
	}
	if input.State != "" && !input.State.IsValid() {
		return errors.New("invalid product state")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Product](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}

	state := input.State
	if state == "" {
		state = ProductStateActive
	}

	product := Product{
		Name:          input.Name,
		Description:   input.Description,
		Category:      input.Category,
		PricePerKilo:  input.PricePerKilo,
		MinimumWeight: input.MinimumWeight,
		State:         state,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		// Concurrent creates can slip past the pre-check and hit the
		// unique index instead.
		if utils.IsDuplicateEntry(err) {
			return nil, errors.New("duplicate name")
		}
		return nil, err
	}
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Product](ctx, "name", input.Name, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, utils.ErrProductNotFound
	}

	state := input.State
	if state == "" {
		state = product.State
	}
	err := db.WithContext(ctx).Model(&product).Updates(map[string]interface{}{
		"Name":          input.Name,
		"Description":   input.Description,
		"Category":      input.Category,
		"PricePerKilo":  input.PricePerKilo,
		"MinimumWeight": input.MinimumWeight,
		"State":         state,
	}).Error
	if err != nil {
		return nil, err
	}

	// Drop the stale pricing cache entry.
	_ = config.RemoveRedisKey(productPricingKey(id))

	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, utils.ErrProductNotFound
	}
	return &product, nil
}

func ListProducts(ctx context.Context) ([]*Product, error) {
	db := config.GetDB()
	var products []*Product
	if err := db.WithContext(ctx).Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// GetProductPricing resolves sale pricing for a product, redis-cached.
func GetProductPricing(ctx context.Context, productId int) (*ProductPricing, error) {
	var pricing ProductPricing
	exists, err := config.GetRedisObject(productPricingKey(productId), &pricing)
	if err == nil && exists {
		return &pricing, nil
	}

	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).First(&product, productId).Error; err != nil {
		return nil, fmt.Errorf("%w: product_id=%d", utils.ErrProductNotFound, productId)
	}
	pricing = ProductPricing{
		ID:            product.ID,
		Name:          product.Name,
		PricePerKilo:  product.PricePerKilo,
		MinimumWeight: product.MinimumWeight,
	}
	_ = config.SetRedisObject(productPricingKey(productId), &pricing, 5*time.Minute)

	return &pricing, nil
}
