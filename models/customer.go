package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
)

type Customer struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" validate:"required"`
	Address   string    `gorm:"size:255" json:"address"`
	Phone     string    `gorm:"size:50" json:"phone"`
	Email     string    `gorm:"size:255" json:"email"`
	SellerId  int       `gorm:"index;not null" json:"seller_id" validate:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name     string `json:"name" validate:"required"`
	Address  string `json:"address" validate:"required"`
	Phone    string `json:"phone"`
	Email    string `json:"email" validate:"omitempty,email"`
	SellerId int    `json:"seller_id" validate:"required"`
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	if _, err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Seller](ctx, input.SellerId); err != nil {
		return nil, errors.New("seller not found")
	}

	customer := Customer{
		Name:     input.Name,
		Address:  input.Address,
		Phone:    input.Phone,
		Email:    input.Email,
		SellerId: input.SellerId,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &customer, nil
}

func ListCustomers(ctx context.Context) ([]*Customer, error) {
	db := config.GetDB()
	var customers []*Customer
	if err := db.WithContext(ctx).Order("id").Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}
