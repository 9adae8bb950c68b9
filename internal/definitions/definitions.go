// Package definitions declares the export types compiled into the service
// and the data-source layouts behind them.
package definitions

import (
	"github.com/jonesrussell/north-cloud/export-service/internal/registry"
)

// Data source names referenced by definitions.
const (
	SourcePaymentBillsMongo  = "payment-bills.mongo"
	SourcePaymentBillsSQL    = "payment-bills.sql"
	SourceWalletTransactions = "wallet-transactions.sql"
)

// Storage backends selectable for payment bills.
const (
	DBTypeMongo = "mongo"
	DBTypeSQL   = "sql"
)

// Options carries the configuration definitions depend on.
type Options struct {
	// PaymentBillsDBType selects the payment bills backend: mongo or sql.
	PaymentBillsDBType string
}

// Loaders returns the loader of every built-in export type.
func Loaders(opts Options) []registry.Loader {
	return []registry.Loader{
		PaymentBills(opts.PaymentBillsDBType),
		WalletTransactions(),
	}
}
