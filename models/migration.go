package models

import (
	"log"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&Seller{}, &SellerPayment{},
		&Customer{},
		&Supplier{},
		&PurchaseInvoice{}, &PurchaseInvoiceDetail{}, &InvoicePayment{},
		&InventoryEntry{}, &InventoryAdjustment{},
		&Order{}, &OrderLine{}, &Allocation{},
		&OrderEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
