// Package telemetry reports aggregate GPU utilization in [0,100].
// Readings are noisy and polled; consumers must tolerate staleness.
package telemetry

import "context"

// Provider reports GPU utilization as a percentage.
type Provider interface {
	Utilization(ctx context.Context) (float64, error)
}

// Fixed always reports the same value. Used in tests and in
// deployments without accelerators.
type Fixed float64

func (f Fixed) Utilization(ctx context.Context) (float64, error) {
	return float64(f), nil
}
