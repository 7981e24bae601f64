package inference

import "time"

// Event describes one successful prediction.
type Event struct {
	RequestID   string    `json:"request_id"`
	Request     Request   `json:"request"`
	Prediction  int       `json:"prediction"`
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
}

// Observer receives prediction events. Implementations must not block the caller.
type Observer interface {
	ObservePrediction(ev Event)
}

type Observers []Observer

func (o Observers) ObservePrediction(ev Event) {
	for _, observer := range o {
		observer.ObservePrediction(ev)
	}
}
