package manager

import spc "github.com/sundaman/defect-warning-system"

// trajectoryCapacity bounds the per-detector decision history. The cache
// serves cooldown evaluation and the alert-context payload.
const trajectoryCapacity = 30

// trajectory is a fixed-capacity ring of the most recent decision snapshots.
//
// This type is not concurrency safe and is guarded by the owning entry.
type trajectory struct {
	buf  []spc.Decision
	head int
	size int
}

func newTrajectory(capacity int) *trajectory {
	return &trajectory{buf: make([]spc.Decision, capacity)}
}

func (t *trajectory) add(d spc.Decision) {
	t.buf[t.head] = d
	t.head = (t.head + 1) % len(t.buf)
	if t.size < len(t.buf) {
		t.size++
	}
}

// all returns the cached snapshots oldest first.
func (t *trajectory) all() []spc.Decision {
	out := make([]spc.Decision, 0, t.size)
	start := t.head - t.size
	if start < 0 {
		start += len(t.buf)
	}
	for i := 0; i < t.size; i++ {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// last returns up to n snapshots, newest first.
func (t *trajectory) last(n int) []spc.Decision {
	if n > t.size {
		n = t.size
	}
	out := make([]spc.Decision, 0, n)
	for i := 1; i <= n; i++ {
		idx := t.head - i
		if idx < 0 {
			idx += len(t.buf)
		}
		out = append(out, t.buf[idx])
	}
	return out
}
