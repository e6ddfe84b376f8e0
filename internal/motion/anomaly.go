package motion

const (
	// WindowSize is how many recent movement scores form the baseline.
	WindowSize = 30
	// SpikeRatio is how far above the windowed mean a score must be.
	SpikeRatio = 2.5
	// AbsoluteFloor keeps near-static footage from producing anomalies.
	AbsoluteFloor = 0.02
)

// AnomalyDetector keeps a bounded FIFO of recent non-zero movement scores.
// It belongs to a single pipeline run.
type AnomalyDetector struct {
	size   int
	scores []float64
}

// NewAnomalyDetector returns a detector with an empty window of WindowSize.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{size: WindowSize, scores: make([]float64, 0, WindowSize+1)}
}

// Observe records score and reports whether it is anomalous against the
// window mean, the new score included. Scores <= 0 carry no signal: they
// leave the window untouched and are never anomalous.
func (d *AnomalyDetector) Observe(score float64) bool {
	if score <= 0 {
		return false
	}

	d.scores = append(d.scores, score)
	if len(d.scores) > d.size {
		// shift in place so the backing array stays bounded
		copy(d.scores, d.scores[1:])
		d.scores = d.scores[:d.size]
	}

	return score > d.Average()*SpikeRatio && score > AbsoluteFloor
}

// Average is the mean of the current window, 0 when empty.
func (d *AnomalyDetector) Average() float64 {
	if len(d.scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range d.scores {
		sum += s
	}
	return sum / float64(len(d.scores))
}

// Len is the number of scores currently in the window.
func (d *AnomalyDetector) Len() int { return len(d.scores) }
