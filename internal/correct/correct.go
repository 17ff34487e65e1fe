// Package correct adjusts raw rail voltage for load-induced measurement sag.
package correct

// Calibrated defaults for the linear sag model:
// real[V] = raw[V] + kCPU*CPU% + kGPU*GPU% + offset.
const (
	DefaultKCPU   = 0.00395
	DefaultKGPU   = 0.01478
	DefaultOffset = 0.560
)

// Model is a linear correction of raw rail voltage for compute load.
// It carries no state and never fails; coefficients come from calibration.
type Model struct {
	KCPU   float64
	KGPU   float64
	Offset float64
}

// DefaultModel returns the model with the calibrated default coefficients.
func DefaultModel() Model {
	return Model{
		KCPU:   DefaultKCPU,
		KGPU:   DefaultKGPU,
		Offset: DefaultOffset,
	}
}

// Apply returns the corrected voltage for a raw reading under the given load.
func (m Model) Apply(rawVolts, cpuPercent, gpuPercent float64) float64 {
	return rawVolts + m.KCPU*cpuPercent + m.KGPU*gpuPercent + m.Offset
}
