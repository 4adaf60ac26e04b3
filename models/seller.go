package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/shopspring/decimal"
)

type Seller struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" validate:"required"`
	Phone     string    `gorm:"size:50" json:"phone"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SellerPayment tracks payouts and advances against a seller. Receipt
// attachments are handled by an external service; only the ledger lives here.
type SellerPayment struct {
	ID          int               `gorm:"primary_key" json:"id"`
	SellerId    int               `gorm:"index;not null" json:"seller_id"`
	Amount      decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentType SellerPaymentType `gorm:"type:enum('Payment','Advance');default:Payment" json:"payment_type"`
	Comment     string            `gorm:"type:text" json:"comment"`
	PaymentDate time.Time         `gorm:"not null" json:"payment_date"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

type NewSellerPayment struct {
	SellerId    int               `json:"seller_id" validate:"required"`
	Amount      decimal.Decimal   `json:"amount"`
	PaymentType SellerPaymentType `json:"payment_type"`
	Comment     string            `json:"comment"`
	PaymentDate time.Time         `json:"payment_date"`
}

func CreateSeller(ctx context.Context, name, phone, email string) (*Seller, error) {
	if name == "" {
		return nil, errors.New("seller name is required")
	}
	seller := Seller{Name: name, Phone: phone, Email: email}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&seller).Error; err != nil {
		return nil, err
	}
	return &seller, nil
}

func ListSellers(ctx context.Context) ([]*Seller, error) {
	db := config.GetDB()
	var sellers []*Seller
	if err := db.WithContext(ctx).Order("id").Find(&sellers).Error; err != nil {
		return nil, err
	}
	return sellers, nil
}

func CreateSellerPayment(ctx context.Context, input *NewSellerPayment) (*SellerPayment, error) {
	if _, err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, utils.ErrInvalidQuantity
	}
	if err := utils.ValidateResourceId[Seller](ctx, input.SellerId); err != nil {
		return nil, errors.New("seller not found")
	}

	paymentType := input.PaymentType
	if paymentType == "" {
		paymentType = SellerPaymentTypePayment
	}
	if !paymentType.IsValid() {
		return nil, errors.New("invalid seller payment type")
	}
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now().UTC()
	}

	payment := SellerPayment{
		SellerId:    input.SellerId,
		Amount:      input.Amount,
		PaymentType: paymentType,
		Comment:     input.Comment,
		PaymentDate: paymentDate,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func ListSellerPayments(ctx context.Context, sellerId int) ([]*SellerPayment, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&SellerPayment{}).Order("payment_date DESC")
	if sellerId > 0 {
		q = q.Where("seller_id = ?", sellerId)
	}
	var payments []*SellerPayment
	if err := q.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
