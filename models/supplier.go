package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
)

type Supplier struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" validate:"required"`
	Address   string    `gorm:"size:255" json:"address"`
	Phone     string    `gorm:"size:50" json:"phone"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupplier struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {
	if _, err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	supplier := Supplier{
		Name:    input.Name,
		Address: input.Address,
		Phone:   input.Phone,
		Email:   input.Email,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&supplier).Error; err != nil {
		return nil, err
	}
	return &supplier, nil
}

func ListSuppliers(ctx context.Context) ([]*Supplier, error) {
	db := config.GetDB()
	var suppliers []*Supplier
	if err := db.WithContext(ctx).Order("id").Find(&suppliers).Error; err != nil {
		return nil, err
	}
	return suppliers, nil
}
