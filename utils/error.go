package utils

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// Error kinds surfaced to callers. Every failure inside an order transaction
// rolls back the whole transaction; these tell the caller what went wrong.
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrAlreadyCancelled  = errors.New("order already cancelled")
	ErrOrderNotFound     = errors.New("order not found")
)

// IsDuplicateEntry reports whether err is a MySQL duplicate-key violation
// (ER_DUP_ENTRY), e.g. reusing an invoice number.
func IsDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
