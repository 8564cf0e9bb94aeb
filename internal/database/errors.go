package database

import "errors"

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("not found")

	// ErrIncidentResolved is returned when a transition targets an incident
	// that is no longer active
	ErrIncidentResolved = errors.New("incident already resolved")

	// ErrActiveIncidentExists is returned when a second active incident would
	// be created for the same node
	ErrActiveIncidentExists = errors.New("node already has an active incident")
)
