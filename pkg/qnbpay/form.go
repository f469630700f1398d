package qnbpay

import (
	"bytes"
	"fmt"
	"html/template"
)

// ChargeForm carries everything needed to render the self-submitting browser
// form that POSTs the charge payload directly from the customer's browser to
// the provider. The card-data leg bypasses the merchant server entirely; the
// server only sees redirect parameters afterwards.
type ChargeForm struct {
	Action string
	Fields []FormField
}

// FormField is one hidden input of the charge form. Order is preserved.
type FormField struct {
	Name  string
	Value string
}

// ChargeRequest is the input for building a charge form.
type ChargeRequest struct {
	HolderName         string
	CardNumber         string
	ExpiryMonth        string
	ExpiryYear         string
	CVV                string
	Total              string
	CurrencyCode       string
	InstallmentsNumber int
	InvoiceID          string
	InvoiceDescription string
	Items              string
	ReturnURL          string
	CancelURL          string
	HashKey            string
	ThreeD             bool
}

var formTmpl = template.Must(template.New("chargeform").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting…</title></head>
<body onload="document.getElementById('qnbpay-charge-form').submit();">
<form id="qnbpay-charge-form" method="POST" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>`))

// BuildChargeForm assembles the hidden-field form for paySmart3D or
// paySmart2D depending on req.ThreeD.
func (c *Client) BuildChargeForm(req *ChargeRequest) *ChargeForm {
	endpoint := "/paySmart2D"
	if req.ThreeD {
		endpoint = "/paySmart3D"
	}
	return &ChargeForm{
		Action: c.baseURL + endpoint,
		Fields: []FormField{
			{"cc_holder_name", req.HolderName},
			{"cc_no", req.CardNumber},
			{"expiry_month", req.ExpiryMonth},
			{"expiry_year", req.ExpiryYear},
			{"cvv", req.CVV},
			{"currency_code", req.CurrencyCode},
			{"installments_number", fmt.Sprintf("%d", req.InstallmentsNumber)},
			{"invoice_id", req.InvoiceID},
			{"invoice_description", req.InvoiceDescription},
			{"total", req.Total},
			{"merchant_key", c.merchantKey},
			{"items", req.Items},
			{"cancel_url", req.CancelURL},
			{"return_url", req.ReturnURL},
			{"hash_key", req.HashKey},
		},
	}
}

// Render produces the auto-submitting HTML document for the form.
func (f *ChargeForm) Render() (string, error) {
	var buf bytes.Buffer
	if err := formTmpl.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("failed to render charge form: %w", err)
	}
	return buf.String(), nil
}
