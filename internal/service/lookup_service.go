package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

// InstallmentOptions resolves the installment plans the provider offers for
// a card BIN and amount, filtered by the merchant's global policy cap. Used
// by the checkout UI before the buyer submits.
func (s *PaymentService) InstallmentOptions(ctx context.Context, cardBIN string, amount decimal.Decimal, currency string) ([]qnbpay.InstallmentOption, error) {
	if len(cardBIN) != 8 || !allDigits(cardBIN) {
		return nil, fmt.Errorf("%w: card bin must be 8 digits", utils.ErrValidationError)
	}
	if amount.IsNegative() || amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", utils.ErrValidationError)
	}

	token, err := s.getToken(ctx)
	if err != nil {
		return nil, err
	}
	pos, err := s.gateway.GetPos(ctx, token, cardBIN, amount, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrLookupFailure, err)
	}

	cap := s.installmentSvc.GlobalCap()
	options := make([]qnbpay.InstallmentOption, 0, len(pos.Data))
	for _, opt := range pos.Data {
		if opt.InstallmentsNumber <= cap {
			options = append(options, opt)
		}
	}
	return options, nil
}

// Commissions returns the merchant commission table for a currency.
func (s *PaymentService) Commissions(ctx context.Context, currency string) ([]qnbpay.CommissionEntry, error) {
	token, err := s.getToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.gateway.GetCommissions(ctx, token, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrLookupFailure, err)
	}
	return resp.Data, nil
}
