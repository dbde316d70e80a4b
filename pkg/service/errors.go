package service

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyUnmet is returned when an operation needs a step the
	// client has not completed yet
	ErrDependencyUnmet = errors.New("dependency unmet")

	// ErrGraphNotCreated is the dependency error of operations 2 to 9
	ErrGraphNotCreated = fmt.Errorf("%w: graph is not created", ErrDependencyUnmet)

	// ErrMSTNotComputed is the dependency error of the MST queries
	ErrMSTNotComputed = fmt.Errorf("%w: MST is not computed", ErrDependencyUnmet)

	// ErrInvalidArgument is returned for arguments the graph rejects
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoSession is returned for a task whose connection is not a session
	ErrNoSession = errors.New("task is not bound to a session")

	// ErrUnknownOp is returned for op codes outside 1..10
	ErrUnknownOp = errors.New("unknown operation")
)
