package services

import (
	"math"

	"trustwork_backend/internal/config"
	"trustwork_backend/internal/models"
)

// FeeSchedule - проценты комиссий
type FeeSchedule struct {
	PlatformPercent float64
	CardPercent     float64
	EftPercent      float64
}

func FeeScheduleFromConfig(cfg *config.Config) FeeSchedule {
	return FeeSchedule{
		PlatformPercent: cfg.Fees.PlatformFeePercent,
		CardPercent:     cfg.Fees.PaymentFeeCard,
		EftPercent:      cfg.Fees.PaymentFeeEft,
	}
}

// FeeBreakdown - разложение суммы эскроу
type FeeBreakdown struct {
	Gross         int64
	PlatformFee   int64
	PaymentFee    int64
	TotalCharge   int64
	FreelancerNet int64
}

// Compute считает комиссии в центах, округление от нуля
func (s FeeSchedule) Compute(gross int64, method models.PaymentMethod) FeeBreakdown {
	paymentPercent := s.EftPercent
	if method == models.PaymentMethodCard {
		paymentPercent = s.CardPercent
	}
	platform := percentOf(gross, s.PlatformPercent)
	payment := percentOf(gross, paymentPercent)
	return FeeBreakdown{
		Gross:         gross,
		PlatformFee:   platform,
		PaymentFee:    payment,
		TotalCharge:   gross + payment,
		FreelancerNet: gross - platform,
	}
}

func percentOf(amount int64, percent float64) int64 {
	return int64(math.Round(float64(amount) * percent / 100))
}
