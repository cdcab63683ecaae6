package collector

import (
	"context"
	"fmt"
	"strings"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

// Validator performs advisory consistency checks on bars coming from
// external feeds. Unlike the construction-time invariants on domain.Bar,
// these checks never reject a record: violations are counted and reported
// so the orchestrator can log data quality without dropping provider data.
type Validator struct {
	logger ports.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger ports.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidateBar checks a single bar against the full rule set. Every rule is
// evaluated; simultaneous violations are joined with "; " rather than
// short-circuited. Returns (true, "OK") iff no rule fails.
func (v *Validator) ValidateBar(bar *domain.Bar) (bool, string) {
	var errs []string

	// OHLC logic
	if bar.High < max(bar.Open, bar.Close) {
		errs = append(errs, fmt.Sprintf("High (%v) < max(open, close)", bar.High))
	}
	if bar.Low > min(bar.Open, bar.Close) {
		errs = append(errs, fmt.Sprintf("Low (%v) > min(open, close)", bar.Low))
	}
	if bar.High < bar.Low {
		errs = append(errs, fmt.Sprintf("High (%v) < Low (%v)", bar.High, bar.Low))
	}

	// Prices must be positive
	if bar.Open <= 0 || bar.Close <= 0 {
		errs = append(errs, "Price <= 0")
	}

	// Volume
	if bar.Volume < 0 {
		errs = append(errs, "Volume < 0")
	}

	// WAP logic, only when the provider supplied one
	if bar.WAP != nil && *bar.WAP <= 0 && bar.Volume > 0 {
		errs = append(errs, "WAP invalid (WAP <= 0 with volume > 0)")
	}

	// Trade count logic, only when the provider supplied one
	if bar.Count != nil && *bar.Count <= 0 && bar.Volume > 0 {
		errs = append(errs, "Count invalid (count <= 0 with volume > 0)")
	}

	if len(errs) > 0 {
		reason := strings.Join(errs, "; ")
		if v.logger != nil {
			v.logger.Warn(context.Background(), "Bar validation errors", map[string]interface{}{
				"symbol": bar.Symbol,
				"reason": reason,
			})
		}
		return false, reason
	}
	return true, "OK"
}

// ValidateBars classifies every bar independently and tallies the outcome.
// It never stops at the first invalid record, which is what lets the
// orchestrator report partial data quality instead of rejecting a batch.
func (v *Validator) ValidateBars(bars []*domain.Bar) (validCount, invalidCount int) {
	for _, bar := range bars {
		if ok, _ := v.ValidateBar(bar); ok {
			validCount++
		} else {
			invalidCount++
		}
	}
	return validCount, invalidCount
}
