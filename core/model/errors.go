package model

import (
	"errors"
	"fmt"
)

// RejectReason classifies why a reading did not enter the history.
type RejectReason string

const (
	RejectNonNumeric       RejectReason = "non_numeric"
	RejectNegative         RejectReason = "negative"
	RejectAbovePhysicalMax RejectReason = "above_physical_max"
	RejectMissingTimestamp RejectReason = "missing_timestamp"
	RejectFutureTimestamp  RejectReason = "future_timestamp"
	RejectOutOfOrder       RejectReason = "out_of_order"
	RejectUnknownTank      RejectReason = "unknown_tank"
	RejectGeometryConfig   RejectReason = "geometry_config"
)

// ValidationError is returned for malformed, out of range or out of order
// readings. The reading is dropped and ingestion continues.
type ValidationError struct {
	TankID string
	Reason RejectReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tank %s: reading rejected: %s", e.TankID, e.Reason)
	}
	return fmt.Sprintf("tank %s: reading rejected: %s: %s", e.TankID, e.Reason, e.Detail)
}

// DurabilityError means the reading could not be persisted after all retry
// attempts. Tank state was not advanced.
type DurabilityError struct {
	TankID   string
	Attempts int
	Err      error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("tank %s: persist reading failed after %d attempts: %v", e.TankID, e.Attempts, e.Err)
}

func (e *DurabilityError) Unwrap() error { return e.Err }

// GeometryConfigError blocks ingestion for a tank until its geometry is fixed.
type GeometryConfigError struct {
	TankID string
	Reason string
}

func (e *GeometryConfigError) Error() string {
	return fmt.Sprintf("tank %s: invalid geometry: %s", e.TankID, e.Reason)
}

var (
	// ErrInsufficientData is reported by forecasts that lack enough samples
	// since the last refill.
	ErrInsufficientData = errors.New("insufficient data for forecast")
	// ErrUnknownTank is returned for tanks that were never provisioned.
	ErrUnknownTank = errors.New("unknown tank")
)

// RejectReasonOf extracts the rejection reason from err, if any.
func RejectReasonOf(err error) (RejectReason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	var ge *GeometryConfigError
	if errors.As(err, &ge) {
		return RejectGeometryConfig, true
	}
	return "", false
}
