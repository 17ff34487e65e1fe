package monitor

import "time"

// Reading is one completed sampling cycle: the raw mean rail voltage, its
// load-corrected estimate, and the utilization figures that produced it.
type Reading struct {
	Timestamp         time.Time `json:"ts"`
	RawVolts          float64   `json:"raw_volts"`
	CorrectedVolts    float64   `json:"corrected_volts"`
	CPUPercent        float64   `json:"cpu_pct"`
	GPUPercent        float64   `json:"gpu_pct"`
	UndervoltageCount int       `json:"undervoltage_count"`
}
