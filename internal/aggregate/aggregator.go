package aggregate

import (
	"errors"

	"github.com/andresmejia3/watchtower/internal/types"
)

// TopN is how many labels each summary list keeps.
const TopN = 3

// ErrFinalized is returned when a finished Aggregator is used again.
var ErrFinalized = errors.New("aggregate: summary already emitted")

// Observation is what one analyzed frame contributes to the session.
type Observation struct {
	Faces    []types.FaceObservation
	Activity types.ActivityObservation
	Anomaly  bool
}

// Summary is the end-of-stream record. It is built once by Finalize and
// shares nothing with the Aggregator.
type Summary struct {
	FramesProcessed   int          `json:"frames_processed"`
	FacesDetected     int          `json:"faces_detected"`
	AnomaliesDetected int          `json:"anomalies_detected"`
	Activities        *Counter     `json:"activities"`
	Emotions          *Counter     `json:"emotions"`
	TopActivities     []LabelCount `json:"top_activities"`
	TopEmotions       []LabelCount `json:"top_emotions"`
}

// Aggregator accumulates per-frame observations for one pipeline run.
type Aggregator struct {
	frames     int
	faces      int
	anomalies  int
	activities *Counter
	emotions   *Counter
	finalized  bool
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{activities: NewCounter(), emotions: NewCounter()}
}

// Observe folds one analyzed frame into the running counters.
func (a *Aggregator) Observe(obs Observation) error {
	if a.finalized {
		return ErrFinalized
	}
	a.frames++
	a.faces += len(obs.Faces)
	if obs.Anomaly {
		a.anomalies++
	}
	a.activities.Update(obs.Activity.Label)
	for _, f := range obs.Faces {
		a.emotions.Update(f.Emotion)
	}
	return nil
}

// FramesProcessed is the number of frames observed so far.
func (a *Aggregator) FramesProcessed() int { return a.frames }

// Finalize builds the summary. It succeeds exactly once.
func (a *Aggregator) Finalize() (Summary, error) {
	if a.finalized {
		return Summary{}, ErrFinalized
	}
	a.finalized = true

	return Summary{
		FramesProcessed:   a.frames,
		FacesDetected:     a.faces,
		AnomaliesDetected: a.anomalies,
		Activities:        a.activities.Clone(),
		Emotions:          a.emotions.Clone(),
		TopActivities:     a.activities.MostCommon(TopN),
		TopEmotions:       a.emotions.MostCommon(TopN),
	}, nil
}
