package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/consentstack/internal/ir"
)

// ResolutionErrorCode categorizes external-state failures.
type ResolutionErrorCode string

const (
	// ErrCodeZoneNotFound indicates no hosted zone matches a zone reference.
	ErrCodeZoneNotFound ResolutionErrorCode = "ZONE_NOT_FOUND"

	// ErrCodeZoneLookupFailed indicates the zone lookup itself failed.
	ErrCodeZoneLookupFailed ResolutionErrorCode = "ZONE_LOOKUP_FAILED"

	// ErrCodeCertificateOutsideZone indicates a certificate name that the
	// resolved zone cannot validate.
	ErrCodeCertificateOutsideZone ResolutionErrorCode = "CERTIFICATE_OUTSIDE_ZONE"

	// ErrCodeCertificateValidation indicates issuance failed or timed out.
	ErrCodeCertificateValidation ResolutionErrorCode = "CERTIFICATE_VALIDATION"
)

// ResolutionError reports an external-state problem: a zone lookup miss or
// a certificate that cannot be validated. It is fatal for the whole
// deployment and never retried.
type ResolutionError struct {
	Code     ResolutionErrorCode
	Resource ir.ResourceID
	Message  string
	Err      error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s: %s (resource=%s)", e.Code, e.Message, e.Resource)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// OrchestratorError wraps a failure reported by the provisioning boundary.
// The core never retries it; it only refuses to build on top of it.
type OrchestratorError struct {
	Resource ir.ResourceID
	Kind     ir.Kind
	Err      error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("ORCHESTRATOR: provisioning %s %s failed: %v", e.Kind, e.Resource, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// IsResolutionError returns true if err (or any error in its chain) is a
// ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// IsZoneNotFound returns true if err is a ResolutionError for a zone miss.
func IsZoneNotFound(err error) bool {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Code == ErrCodeZoneNotFound
	}
	return false
}

// IsOrchestratorError returns true if err (or any error in its chain) is an
// OrchestratorError.
func IsOrchestratorError(err error) bool {
	var oe *OrchestratorError
	return errors.As(err, &oe)
}

// ErrorCode returns the stable code of a deployment error: the
// ResolutionError code, "ORCHESTRATOR", or "" for anything else.
func ErrorCode(err error) string {
	var re *ResolutionError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if IsOrchestratorError(err) {
		return "ORCHESTRATOR"
	}
	return ""
}

// ErrZoneNotFound is returned by a ZoneLookup when no zone matches.
var ErrZoneNotFound = errors.New("hosted zone not found")

// ErrPredecessorNotReady is returned when a chain stage is started before
// all of its predecessors are Ready.
var ErrPredecessorNotReady = errors.New("predecessor not ready")

// ErrInvalidTransition is returned for a chain transition the state
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid stage transition")

// ErrSkipped marks a node that was not attempted because an upstream node
// failed.
var ErrSkipped = errors.New("skipped: upstream dependency failed")
