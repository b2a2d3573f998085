package scorer

import "github.com/alfredjeanlab/sentinel/internal/model"

// sample is one report's contribution to the scoring window.
type sample struct {
	agentID  string
	reportID string
	traffic  float64
	findings []string
}

func (s sample) features() []float64 {
	return []float64{s.traffic, float64(len(s.findings))}
}

// window is a fixed-capacity FIFO of samples; the oldest is evicted first.
type window struct {
	buf   []sample
	start int
	n     int
}

func newWindow(capacity int) *window {
	return &window{buf: make([]sample, capacity)}
}

func (w *window) push(s sample) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

func (w *window) len() int { return w.n }

// items returns the samples oldest first.
func (w *window) items() []sample {
	out := make([]sample, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func sampleFromReport(r *model.Report) sample {
	return sample{
		agentID:  r.AgentID,
		reportID: r.ID,
		traffic:  r.Data.TrafficVolume,
		findings: append([]string(nil), r.Data.Findings...),
	}
}
