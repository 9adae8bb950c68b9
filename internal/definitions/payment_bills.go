package definitions

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/jonesrussell/north-cloud/export-service/internal/datasource"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/registry"
)

// PaymentBillsType is the export type of payment bills.
const PaymentBillsType = "payment-bills"

const (
	paymentBillsTTL = 1800 * time.Second
	amountScale     = 100
)

var paymentBillFields = []string{
	"merchantId", "channelID", "merchantEmail", "apiType", "state",
	"partnerCode", "orderId", "trackingId", "merchantTransId",
}

// PaymentBills loads the payment bills definition backed by dbType.
func PaymentBills(dbType string) registry.Loader {
	return func() (*domain.Definition, error) {
		if dbType == "" {
			dbType = DBTypeMongo
		}

		var source string
		switch dbType {
		case DBTypeMongo:
			source = SourcePaymentBillsMongo
		case DBTypeSQL:
			source = SourcePaymentBillsSQL
		default:
			return nil, fmt.Errorf("payment bills: unsupported db type %q", dbType)
		}

		return &domain.Definition{
			Type:            PaymentBillsType,
			FileName:        "Hoa_Don_Thanh_Toan",
			SheetName:       "Hóa đơn",
			CacheTTL:        paymentBillsTTL,
			UseRemoteWorker: true,
			Enabled:         true,
			DataSource:      source,
			Columns:         paymentBillColumns,
			DefaultFilters:  domain.Filter{"state": "completed"},
			Transform:       transformPaymentBill,
			FilterBuilder:   domain.FilterBuilderFunc(buildPaymentBillFilter),
		}, nil
	}
}

func paymentBillColumns(lang string) []string {
	if lang == domain.DefaultLangCode {
		return []string{"Mã HĐ", "Thời gian", "Merchant", "Số tiền", "Trạng thái", "Kênh"}
	}
	return []string{"Bill ID", "Time", "Merchant", "Amount", "Status", "Channel"}
}

func buildPaymentBillFilter(params domain.Params) domain.Filter {
	f := domain.Filter{"isDelete": false}

	for _, key := range paymentBillFields {
		if v, ok := params[key]; ok && v != nil && v != "" {
			f[key] = v
		}
	}
	if r, ok := dateRange(params, "dateFr", "dateTo"); ok {
		f["createdAt"] = r
	}
	if r, ok := dateRange(params, "updatedFr", "updatedTo"); ok {
		f["lastUpdatedAt"] = r
	}
	return f
}

func transformPaymentBill(row domain.Row, lang string) domain.Row {
	out := make(domain.Row, len(row)+1)
	for k, v := range row {
		out[k] = v
	}

	if amount, ok := toFloat(row["amount"]); ok {
		out["amount"] = amount / amountScale
	}

	ts, ok := toTime(row["time"])
	if !ok {
		ts, ok = toTime(row["created_at"])
	}
	if ok {
		out["time"] = LocalizeTime(ts, lang)
	}
	return out
}

// PaymentBillsSQL is the table layout of payment bills in MariaDB.
func PaymentBillsSQL() datasource.SQLConfig {
	return datasource.SQLConfig{
		Table: "payment_bills",
		Select: []string{
			"id", "tracking_id", "merchant_trans_id", "state", "amount", "paid_amount",
			"refunded_amount", "order_info", "currency", "merchant_id", "merchant_email",
			"channel_id", "api_type", "order_id", "partner_code", "created_at", "updated_at",
		},
		Fields: map[string]string{
			"merchantId":      "merchant_id",
			"merchantEmail":   "merchant_email",
			"state":           "state",
			"channelID":       "channel_id",
			"apiType":         "api_type",
			"orderId":         "order_id",
			"merchantTransId": "merchant_trans_id",
			"partnerCode":     "partner_code",
			"trackingId":      "tracking_id",
			"createdAt":       "created_at",
			"lastUpdatedAt":   "updated_at",
			"isDelete":        "is_delete",
		},
		Where:   map[string]any{"is_delete": false},
		OrderBy: "created_at DESC",
	}
}

// PaymentBillsMongo is the collection layout of payment bills in MongoDB.
func PaymentBillsMongo() datasource.MongoConfig {
	return datasource.MongoConfig{
		Fields: map[string]string{
			"merchantId":    "merchantInfo.id",
			"merchantEmail": "merchantInfo.email",
		},
		Base:    bson.M{"isDelete": false},
		Sort:    bson.D{{Key: "createdAt", Value: -1}},
		Project: projectPaymentBill,
	}
}

// PaymentBillsCollection is the MongoDB collection holding payment bills.
const PaymentBillsCollection = "payment-bills"

func projectPaymentBill(doc bson.M) domain.Row {
	merchant := asMap(doc["merchantInfo"])

	row := domain.Row{
		"id":                doc["_id"],
		"tracking_id":       doc["trackingId"],
		"merchant_trans_id": doc["merchantTransId"],
		"state":             doc["state"],
		"amount":            doc["amount"],
		"paid_amount":       doc["paidAmount"],
		"refunded_amount":   doc["refundedAmount"],
		"order_info":        doc["orderInfo"],
		"currency":          doc["currency"],
		"merchant_id":       merchant["id"],
		"merchant_email":    merchant["email"],
		"merchant_name":     merchant["name"],
		"merchant_phone":    merchant["phone"],
		"channel_id":        doc["channelID"],
		"api_type":          doc["apiType"],
		"order_id":          doc["orderId"],
		"partner_code":      doc["partnerCode"],
		"payment_method":    joinList(doc["paymentMethod"]),
		"created_at":        timeValue(doc["createdAt"]),
		"updated_at":        timeValue(doc["lastUpdatedAt"]),
		"completed_at":      timeValue(doc["completedAt"]),
	}
	if oid, ok := doc["_id"].(interface{ Hex() string }); ok {
		row["id"] = oid.Hex()
	}
	return row
}

func asMap(v any) bson.M {
	switch val := v.(type) {
	case bson.M:
		return val
	case map[string]any:
		return val
	case bson.D:
		m := make(bson.M, len(val))
		for _, e := range val {
			m[e.Key] = e.Value
		}
		return m
	default:
		return bson.M{}
	}
}

func timeValue(v any) any {
	if t, ok := toTime(v); ok {
		return t
	}
	return v
}
