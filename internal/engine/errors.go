package engine

import (
	"errors"
	"fmt"
)

// Construction errors. These are programmer errors and the only errors
// the engine returns; data-driven failures become diagnostics.
var (
	ErrNilDocument  = errors.New("engine: document is required")
	ErrNoAreas      = errors.New("engine: document declares no areas")
	ErrLearningRate = errors.New("engine: learning rate must be in (0,1]")
	ErrThresholds   = errors.New("engine: visibility thresholds must be in [0,1]")

	// ErrDestroyed is returned by Init after Destroy.
	ErrDestroyed = errors.New("engine: destroyed")
)

// SettingsError wraps a construction error with the offending value.
type SettingsError struct {
	Field string
	Value any
	Err   error
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("%v (%s=%v)", e.Err, e.Field, e.Value)
}

func (e *SettingsError) Unwrap() error { return e.Err }

func validateSettings(s Settings) error {
	if !(s.LearningRate > 0 && s.LearningRate <= 1) {
		return &SettingsError{Field: "learning_rate", Value: s.LearningRate, Err: ErrLearningRate}
	}
	for field, v := range map[string]float64{
		"advanced_threshold": s.AdvancedThreshold,
		"expert_threshold":   s.ExpertThreshold,
	} {
		if v < 0 || v > 1 {
			return &SettingsError{Field: field, Value: v, Err: ErrThresholds}
		}
	}
	return nil
}
