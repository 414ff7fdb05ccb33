package util

// Ewma is an exponentially weighted moving average seeded with an initial
// value, so the first observation decays from the seed rather than from zero.
//
// This type is not concurrency safe.
type Ewma struct {
	lambda float64

	// Mutable state
	value float64
}

// NewEwma creates an Ewma that starts at seed and weights each new
// observation by lambda: value = lambda*new + (1-lambda)*value.
func NewEwma(seed, lambda float64) *Ewma {
	return &Ewma{lambda: lambda, value: seed}
}

// Add decays the average toward newValue and returns the updated value.
func (e *Ewma) Add(newValue float64) float64 {
	e.value = e.lambda*newValue + (1-e.lambda)*e.value
	return e.value
}

// Value gets the current value of the moving average.
func (e *Ewma) Value() float64 {
	return e.value
}

// Reset restarts the average at seed.
func (e *Ewma) Reset(seed float64) {
	e.value = seed
}
