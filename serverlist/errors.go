package serverlist

import "errors"

var (
	// ErrMemoryAllocationFailure covers the allocation-class failures of
	// the wire protocol, including continuum labels that exceed their
	// buffer budget.
	ErrMemoryAllocationFailure = errors.New("memory allocation failure")

	// ErrInvalidArguments is returned for malformed hostnames, empty
	// bucket tables and similar caller mistakes.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrNotFound is returned when removing a server that is not in the
	// fleet. The fleet is left untouched.
	ErrNotFound = errors.New("server not found")

	// ErrSomeErrors is returned when a removal would leave the fleet
	// empty.
	ErrSomeErrors = errors.New("some errors were reported")

	// ErrDeprecated is returned by the UDP entry points.
	ErrDeprecated = errors.New("deprecated")

	// ErrFailure is returned by RunDistribution and
	// AddUnixSocketWithWeight on a nil selector; the other entry points
	// return ErrInvalidArguments there.
	ErrFailure = errors.New("failure")
)
