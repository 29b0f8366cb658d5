// Command schema prints the DDL for the gorm models so atlas can diff migrations:
//
//	atlas migrate diff --env gorm
package main

import (
	"fmt"
	"io"
	"os"
	"thruster/src/models"

	"ariga.io/atlas-provider-gorm/gormschema"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(
		&models.Order{},
		&models.NFTRecord{},
		&models.PaymentLog{},
		&models.Booking{},
		&models.MintAttempt{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
