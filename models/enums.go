package models

import "errors"

type OrderStatus string

const (
	OrderStatusReserved  OrderStatus = "Reserved"
	OrderStatusPrepared  OrderStatus = "Prepared"
	OrderStatusPaid      OrderStatus = "Paid"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusReserved, OrderStatusPrepared, OrderStatusPaid, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// CanTransitionTo encodes the order state machine:
// Reserved -> Prepared -> Paid, forward only; any non-terminal
// status -> Cancelled.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case OrderStatusPrepared:
		return s == OrderStatusReserved
	case OrderStatusPaid:
		return s == OrderStatusPrepared
	case OrderStatusCancelled:
		return true
	}
	return false
}

func ParseOrderStatus(str string) (OrderStatus, error) {
	s := OrderStatus(str)
	if !s.IsValid() {
		return "", errors.New("invalid order status")
	}
	return s, nil
}

type ProductState string

const (
	ProductStateActive   ProductState = "Active"
	ProductStateInactive ProductState = "Inactive"
)

func (s ProductState) IsValid() bool {
	return s == ProductStateActive || s == ProductStateInactive
}

// SellerPaymentType distinguishes payouts from advances in the seller
// payment ledger.
type SellerPaymentType string

const (
	SellerPaymentTypePayment SellerPaymentType = "Payment"
	SellerPaymentTypeAdvance SellerPaymentType = "Advance"
)

func (t SellerPaymentType) IsValid() bool {
	return t == SellerPaymentTypePayment || t == SellerPaymentTypeAdvance
}
