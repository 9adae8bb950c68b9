package definitions

import (
	"time"

	"github.com/jonesrussell/north-cloud/export-service/internal/datasource"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/registry"
)

// WalletTransactionsType is the export type of wallet history.
const WalletTransactionsType = "wallet-transactions"

var walletFields = []string{"customerId", "status", "transId"}

// WalletTransactions loads the wallet history definition.
func WalletTransactions() registry.Loader {
	return func() (*domain.Definition, error) {
		return &domain.Definition{
			Type:       WalletTransactionsType,
			FileName:   "Lich_Su_Vi",
			SheetName:  "Lịch sử ví",
			CacheTTL:   time.Hour,
			Enabled:    true,
			DataSource: SourceWalletTransactions,
			Columns: func(string) []string {
				return []string{"ID", "User ID", "Loại", "Số tiền", "Thời gian", "Mô tả"}
			},
			DefaultFilters: domain.Filter{"type": domain.In{Values: []any{"topup", "withdraw"}}},
			FilterBuilder:  domain.FilterBuilderFunc(buildWalletFilter),
		}, nil
	}
}

func buildWalletFilter(params domain.Params) domain.Filter {
	f := domain.Filter{}
	for _, key := range walletFields {
		if v, ok := params[key]; ok && v != nil && v != "" {
			f[key] = v
		}
	}
	if r, ok := dateRange(params, "dateFr", "dateTo"); ok {
		f["createdAt"] = r
	}
	return f
}

// WalletTransactionsSQL is the table layout of wallet history.
func WalletTransactionsSQL() datasource.SQLConfig {
	return datasource.SQLConfig{
		Table: "trans_his",
		Select: []string{
			"id", "customer_id", "trans_type", "amount", "created_at", "description",
			"trans_id", "customer_name", "balance_before", "balance_after", "status",
		},
		Fields: map[string]string{
			"type":       "trans_type",
			"customerId": "customer_id",
			"status":     "status",
			"transId":    "trans_id",
			"createdAt":  "created_at",
		},
		OrderBy: "created_at DESC",
	}
}
