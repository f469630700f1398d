package qnbpay

// TokenRequest carries app credentials to the token endpoint.
type TokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

// PosRequest is a BIN lookup request. CreditCard holds the first 8 digits of
// the card number.
type PosRequest struct {
	CreditCard   string `json:"credit_card"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
	MerchantKey  string `json:"merchant_key"`
}

// CommissionRequest asks for the merchant's commission table.
type CommissionRequest struct {
	CurrencyCode string `json:"currency_code"`
	MerchantKey  string `json:"merchant_key"`
}

// StatusRequest queries the authoritative payment state for an invoice.
type StatusRequest struct {
	InvoiceID            string `json:"invoice_id"`
	MerchantKey          string `json:"merchant_key"`
	HashKey              string `json:"hash_key"`
	IncludePendingStatus bool   `json:"include_pending_status"`
}
