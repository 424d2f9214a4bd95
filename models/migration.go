package models

import (
	"log"

	"github.com/enterpriseshop/stockops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&StockLedger{}, &StockMovement{},
		&StockReservation{}, &ReservationKey{},
		&Shop{},
		&Order{}, &OrderItem{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
