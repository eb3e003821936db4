package client

import (
	"time"
)

// Default retry settings
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Action is what the retry loop does after an attempt
type Action int

const (
	// Stop ends the loop and returns the last response
	Stop Action = iota
	// Retry sleeps for Decision.Delay and tries again
	Retry
)

// Decision is the outcome of evaluating one attempt
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy is the retry/backoff policy. Attempts are numbered from 0 and at
// most MaxRetries+1 are made. Authorization failures are never retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultPolicy returns 3 retries with 1s, 2s, 4s delays
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Decide is a pure function of the attempt number and its outcome
func (p Policy) Decide(attempt int, last Response) Decision {
	if last.Success || IsAuthError(last) {
		return Decision{Action: Stop}
	}
	if attempt >= p.MaxRetries {
		return Decision{Action: Stop}
	}
	return Decision{Action: Retry, Delay: p.BaseDelay << uint(attempt)}
}
