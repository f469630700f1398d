package qnbpay

import "strings"

// TokenResponse wraps the token endpoint response.
type TokenResponse struct {
	StatusCode        int    `json:"status_code"`
	StatusDescription string `json:"status_description"`
	Data              struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	} `json:"data"`
}

// InstallmentOption is a single installment plan offered for a card program.
type InstallmentOption struct {
	PosID              int    `json:"pos_id"`
	InstallmentsNumber int    `json:"installments_number"`
	Amount             string `json:"amount"`
	AmountToBePaid     string `json:"amount_to_be_paid"`
	CurrencyCode       string `json:"currency_code"`
}

// PosResponse is the BIN lookup result: the card program and the installment
// plans the provider supports for it.
type PosResponse struct {
	StatusCode        int                 `json:"status_code"`
	StatusDescription string              `json:"status_description"`
	CardBrand         string              `json:"card_brand"`
	CardProgram       string              `json:"card_program"`
	Data              []InstallmentOption `json:"data"`
}

// InstallmentNumbers flattens the offered plans into a list of counts.
func (r *PosResponse) InstallmentNumbers() []int {
	out := make([]int, 0, len(r.Data))
	for _, opt := range r.Data {
		out = append(out, opt.InstallmentsNumber)
	}
	return out
}

// CommissionEntry is one row of the merchant commission table.
type CommissionEntry struct {
	InstallmentsNumber int    `json:"installments_number"`
	CommissionRate     string `json:"merchant_commission_percentage"`
	CommissionFixed    string `json:"merchant_commission_fixed"`
	CurrencyCode       string `json:"currency_code"`
}

// CommissionResponse is the commission table response.
type CommissionResponse struct {
	StatusCode        int               `json:"status_code"`
	StatusDescription string            `json:"status_description"`
	Data              []CommissionEntry `json:"data"`
}

// StatusResponse is the checkstatus result. Payment success is defined as
// MdStatus == 1 AND StatusCode == 100; anything else, including pending, is
// not-yet-paid.
type StatusResponse struct {
	StatusCode          int    `json:"status_code"`
	StatusDescription   string `json:"status_description"`
	MdStatus            int    `json:"mdStatus"`
	TransactionStatus   string `json:"transaction_status"`
	OrderNo             string `json:"order_no"`
	InvoiceID           string `json:"invoice_id"`
	TotalRefundedAmount string `json:"total_refunded_amount"`
}

// Paid reports whether the provider confirms the charge as completed.
func (r *StatusResponse) Paid() bool {
	return r.MdStatus == 1 && r.StatusCode == StatusOK
}

// Pending reports a charge the provider still considers in flight.
func (r *StatusResponse) Pending() bool {
	return strings.EqualFold(r.TransactionStatus, "PENDING")
}

// Declined reports an authoritative rejection: the provider answered for this
// charge and it is neither completed nor still in flight. A zero status_code
// means the provider gave no verdict and is never treated as a decline.
func (r *StatusResponse) Declined() bool {
	return r.StatusCode != 0 && !r.Paid() && !r.Pending()
}

// WebhookPayload is the notification QNBPay posts to the merchant webhook
// endpoint. The payment_status field is a trigger only; it is never trusted
// as proof of payment.
type WebhookPayload struct {
	InvoiceID       string `json:"invoice_id" form:"invoice_id"`
	PaymentStatus   string `json:"payment_status" form:"payment_status"`
	TransactionType string `json:"transaction_type" form:"transaction_type"`
	OrderNo         string `json:"order_no" form:"order_no"`
	HashKey         string `json:"hash_key" form:"hash_key"`
	Error           string `json:"error" form:"error"`
}
