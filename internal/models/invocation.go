package models

import "time"

type InvocationResult struct {
	ID          string
	Operation   string
	Args        []string
	Inputs      InputValue
	ExitCode    int
	Stdout      string
	Stderr      string
	StartedAt   time.Time
	CompletedAt time.Time
	TimedOut    bool
}

func (r *InvocationResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Succeeded reports a zero exit that was not cut short by a timeout.
func (r *InvocationResult) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}
