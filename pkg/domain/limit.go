package domain

import "time"

// LimitDecision records one rate limiter verdict for stats sinks.
type LimitDecision struct {
	Limiter string
	Key     string
	Allowed bool
	At      time.Time
}
