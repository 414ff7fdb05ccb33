package testutil

import (
	"time"

	spc "github.com/sundaman/defect-warning-system"
)

// TestClock is a Clock that returns a settable time.
type TestClock struct {
	CurrentTime time.Time
}

func (t *TestClock) Now() time.Time {
	return t.CurrentTime
}

// At returns a timestamp offset from a fixed epoch, for building ordered
// sample streams.
func At(hours float64) time.Time {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(hours * float64(time.Hour)))
}

// Samples builds a stream of n identical samples spaced stepHours apart.
func Samples(item string, n int, value float64, throughput int, stepHours float64) []spc.Sample {
	out := make([]spc.Sample, n)
	for i := range out {
		out[i] = spc.Sample{
			Item:  item,
			Type:  spc.ItemTypeYield,
			Value: value,
			N:     throughput,
			Time:  At(float64(i) * stepHours),
		}
	}
	return out
}
