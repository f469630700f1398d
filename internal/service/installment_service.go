package service

import (
	"github.com/cartline/qnbpay-bridge/internal/config"
	"github.com/cartline/qnbpay-bridge/internal/models"
)

// InstallmentService computes the maximum allowed installment count from the
// merchant's configured policy and reconciles the buyer's selection against
// the options the provider actually offers for the card.
type InstallmentService struct {
	cfg config.InstallmentConfig
}

// NewInstallmentService constructs an InstallmentService.
func NewInstallmentService(cfg config.InstallmentConfig) *InstallmentService {
	return &InstallmentService{cfg: cfg}
}

// MaxInstallments returns the highest installment count the merchant policy
// allows for the order. Returns 1 immediately when installments are globally
// disabled. Product caps only ever lower the global cap, never raise it, and
// an order total below the configured threshold forces pay-in-full when cart
// limiting is enabled.
func (s *InstallmentService) MaxInstallments(order *models.Order, items []models.OrderItem) int {
	if !s.cfg.Enabled {
		return 1
	}

	cap := s.cfg.MaxCount
	if cap < 1 {
		cap = 1
	}

	if s.cfg.PerProductLimit {
		for _, item := range items {
			// Zero means the product carries no override.
			if item.InstallmentLimit > 0 && item.InstallmentLimit < cap {
				cap = item.InstallmentLimit
			}
		}
	}

	if s.cfg.PerCartLimit && order.Total.LessThan(s.cfg.CartThreshold) {
		return 1
	}

	return cap
}

// GlobalCap returns the policy cap with no order context: 1 when
// installments are disabled, else the configured maximum.
func (s *InstallmentService) GlobalCap() int {
	if !s.cfg.Enabled || s.cfg.MaxCount < 1 {
		return 1
	}
	return s.cfg.MaxCount
}

// Reconcile validates the buyer's selected installment count against the
// provider-returned options and the policy cap. The selection is kept when
// the provider offers it and it does not exceed max; the result is clamped
// down to max and never up.
func (s *InstallmentService) Reconcile(selected int, providerOptions []int, max int) int {
	if max <= 1 || len(providerOptions) == 0 {
		return 1
	}
	for _, opt := range providerOptions {
		if opt == selected {
			if selected > max {
				return max
			}
			return selected
		}
	}
	return 1
}
