package engine

import (
	"fmt"
	"math"

	"github.com/opensource-health/kestrel/internal/domain"
)

// Thresholds are the lower bounds, in percent, of the HIGH and MEDIUM bands.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// DefaultThresholds returns HIGH >= 70 and MEDIUM >= 40.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 70, Medium: 40}
}

// ThresholdsFromConfig converts configured thresholds.
func ThresholdsFromConfig(cfg domain.ClassificationConfig) Thresholds {
	return Thresholds{High: cfg.High, Medium: cfg.Medium}
}

// Validate checks 0 <= Medium <= High <= 100.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.High) || math.IsNaN(t.Medium) || t.Medium < 0 || t.High > 100 || t.Medium > t.High {
		return fmt.Errorf("invalid thresholds: need 0 <= medium (%g) <= high (%g) <= 100", t.Medium, t.High)
	}
	return nil
}

// Classify maps the top confidence onto a band. Bounds are inclusive.
func Classify(confidence float64, t Thresholds) domain.Classification {
	switch {
	case confidence >= t.High:
		return domain.ClassificationHigh
	case confidence >= t.Medium:
		return domain.ClassificationMedium
	default:
		return domain.ClassificationLow
	}
}
