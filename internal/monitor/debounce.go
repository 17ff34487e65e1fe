package monitor

// Decision is the outcome of observing one corrected reading.
type Decision int

const (
	// DecisionNormal means the reading is at or above threshold; the
	// consecutive counter has been reset.
	DecisionNormal Decision = iota
	// DecisionWarning means the reading is below threshold but the
	// consecutive limit has not been reached yet.
	DecisionWarning
	// DecisionShutdown means the consecutive limit has been reached.
	DecisionShutdown
)

// Debouncer counts consecutive under-threshold corrected readings so that a
// transient dip does not trigger a shutdown. A reading exactly at the
// threshold counts as in range.
type Debouncer struct {
	threshold float64
	limit     int
	count     int
}

// NewDebouncer builds a Debouncer for the given threshold (volts) and
// consecutive-reading limit.
func NewDebouncer(threshold float64, limit int) *Debouncer {
	return &Debouncer{
		threshold: threshold,
		limit:     limit,
	}
}

// Observe records one corrected reading and returns the resulting decision.
// Absent readings must not be passed here; they leave the counter untouched.
func (d *Debouncer) Observe(correctedVolts float64) Decision {
	if correctedVolts >= d.threshold {
		d.count = 0
		return DecisionNormal
	}

	d.count++
	if d.count >= d.limit {
		return DecisionShutdown
	}
	return DecisionWarning
}

// Count returns the current consecutive under-threshold count.
func (d *Debouncer) Count() int {
	return d.count
}
