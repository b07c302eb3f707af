package service

import (
	"errors"
)

// Service errors.
var (
	ErrAlreadyStarted = errors.New("service already started")
	ErrStopped        = errors.New("service stopped")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Stats is a snapshot of service counters.
type Stats struct {
	// Lights is the number of known devices.
	Lights int

	// Broadcasts is the number of discovery requests sent.
	Broadcasts uint64

	// Filtered is the number of broadcast envelopes removed from the
	// merged inbound stream.
	Filtered uint64

	// Routed is the number of envelopes published to the inbound hub.
	Routed uint64

	// Restarts is the total number of transport stream restarts.
	Restarts int

	// Refused is the number of envelopes from unknown devices that arrived
	// after Stop began and created no session.
	Refused uint64
}
