// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Registration outcomes.
const (
	RegistrationCreated   = "created"
	RegistrationExists    = "exists"
	RegistrationForbidden = "forbidden"
	RegistrationError     = "error"
)

// Authentication outcomes.
const (
	AuthSuccess         = "success"
	AuthUnauthenticated = "unauthenticated"
	AuthError           = "error"
)

// Recorder captures metric events for the application.
type Recorder interface {
	IncRegistration(outcome string)
	IncAuthentication(outcome string)
	IncAuthCacheHit()
	ObserveAuthScan(candidates int, duration time.Duration)
}
