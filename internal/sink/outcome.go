package sink

import "time"

// Outcome summarises one published event.
type Outcome struct {
	Stream     string
	Operation  Operation
	Method     string
	Target     string
	Status     int
	StatusText string
	Success    bool
	Reason     string
	StartedAt  time.Time
	Duration   time.Duration
}

// Observer receives every outcome after the request finished.
type Observer interface {
	ObservePublish(outcome Outcome)
}

type ObserverFunc func(outcome Outcome)

func (f ObserverFunc) ObservePublish(outcome Outcome) {
	f(outcome)
}
