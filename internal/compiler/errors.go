package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/consentstack/internal/ir"
)

// BuildError reports structural problems detectable without contacting any
// external system. It is never retryable: the descriptors must change.
type BuildError struct {
	Errors []ValidationError

	// Cycle is set when the dependency graph is not acyclic.
	// Path: ["A", "B", "A"]
	Cycle []ir.ResourceID
}

func (e *BuildError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("build failed: %s", e.Errors[0].Error())
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("build failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Has reports whether the build error carries the given code.
func (e *BuildError) Has(code string) bool {
	for _, ve := range e.Errors {
		if ve.Code == code {
			return true
		}
	}
	return false
}

// IsBuildError returns true if err (or any error in its chain) is a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// IsCyclicDependency returns true if err is a BuildError caused by a cycle.
func IsCyclicDependency(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return len(be.Cycle) > 0
	}
	return false
}

// HasCode returns true if err is a BuildError carrying code.
func HasCode(err error, code string) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Has(code)
	}
	return false
}

func newBuildError(errs []ValidationError) *BuildError {
	return &BuildError{Errors: errs}
}
