package cil

import (
	"github.com/wippyai/cli-metadata/errors"
)

type lazyState uint8

const (
	statePending lazyState = iota
	stateResolving
	stateResolved
)

// lazy is a single-assignment cell guarded by the owning module's mutex.
// Callers must hold the lock while forcing or setting it.
type lazy[T any] struct {
	state lazyState
	value T
}

// resolvedLazy returns a cell that already holds v.
func resolvedLazy[T any](v T) lazy[T] {
	return lazy[T]{state: stateResolved, value: v}
}

// force returns the cell value, running load on the first call. A failed load
// leaves the cell pending so a later call retries it.
func (l *lazy[T]) force(load func() (T, error)) (T, error) {
	switch l.state {
	case stateResolved:
		return l.value, nil
	case stateResolving:
		var zero T
		return zero, errors.New(errors.PhaseResolve, errors.KindMalformed).
			Detail("cyclic reference while resolving").
			Build()
	}
	if load == nil {
		l.state = stateResolved
		return l.value, nil
	}

	l.state = stateResolving
	v, err := load()
	if err != nil {
		l.state = statePending
		var zero T
		return zero, err
	}
	l.value, l.state = v, stateResolved
	return v, nil
}

func (l *lazy[T]) set(v T) {
	l.value, l.state = v, stateResolved
}

func (l *lazy[T]) resolved() bool {
	return l.state == stateResolved
}
