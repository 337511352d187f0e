package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle marks dependency cycles.
	ErrCycle = errors.New("dependency cycle detected")
	// ErrMissingDependency marks references to workflows that do not exist.
	ErrMissingDependency = errors.New("missing dependency")
)

// CycleError reports a dependency cycle. Path starts and ends with the same
// workflow, e.g. [a b c a].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if e == nil || len(e.Path) == 0 {
		return ErrCycle.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Members returns the distinct workflows on the cycle.
func (e *CycleError) Members() []string {
	if e == nil || len(e.Path) == 0 {
		return nil
	}
	return append([]string(nil), e.Path[:len(e.Path)-1]...)
}

// MissingDependencyError reports a dependency name with no workflow behind it.
// From is empty when the requested root itself is unknown.
type MissingDependencyError struct {
	Name string
	From string
}

func (e *MissingDependencyError) Error() string {
	if e == nil {
		return ErrMissingDependency.Error()
	}
	if e.From == "" {
		return fmt.Sprintf("%s: workflow %q does not exist", ErrMissingDependency.Error(), e.Name)
	}
	return fmt.Sprintf("%s: workflow %q (required by %q) does not exist", ErrMissingDependency.Error(), e.Name, e.From)
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }
