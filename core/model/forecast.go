package model

import (
	"fmt"
	"strings"
	"time"
)

// Horizon is the forward-looking window of a forecast.
type Horizon string

const (
	HorizonWeek  Horizon = "week"
	HorizonMonth Horizon = "month"
	HorizonYear  Horizon = "year"
)

// Duration returns the length of the horizon.
func (h Horizon) Duration() time.Duration {
	switch h {
	case HorizonWeek:
		return 7 * 24 * time.Hour
	case HorizonMonth:
		return 30 * 24 * time.Hour
	case HorizonYear:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseHorizon accepts week, month or year (case insensitive).
func ParseHorizon(s string) (Horizon, error) {
	h := Horizon(strings.ToLower(strings.TrimSpace(s)))
	if h.Duration() == 0 {
		return "", fmt.Errorf("unknown horizon %q", s)
	}
	return h, nil
}

// ForecastResult is recomputed on demand and never persisted. Depletion
// times are nil when consumption is too small to project a stock-out.
type ForecastResult struct {
	TankID                  string     `json:"tank_id"`
	Horizon                 Horizon    `json:"horizon"`
	GeneratedAt             time.Time  `json:"generated_at"`
	AnchorAt                time.Time  `json:"anchor_at"`
	CurrentVolumeLiters     float64    `json:"current_volume_liters"`
	ConsumptionRatePerHour  float64    `json:"consumption_rate_per_hour"`
	TrendConfidence         float64    `json:"trend_confidence"`
	ProjectedDepletionAt    *time.Time `json:"projected_depletion_at,omitempty"`
	ConfidenceLow           *time.Time `json:"confidence_low,omitempty"`
	ConfidenceHigh          *time.Time `json:"confidence_high,omitempty"`
	RecommendedRefillLiters float64    `json:"recommended_refill_liters"`
	InsufficientData        bool       `json:"insufficient_data"`
	Reason                  string     `json:"reason,omitempty"`
}

// Err returns ErrInsufficientData when the result carries no projection.
func (r ForecastResult) Err() error {
	if r.InsufficientData {
		return ErrInsufficientData
	}
	return nil
}
