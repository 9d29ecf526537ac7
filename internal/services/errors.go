package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrManifestFormat  = errors.New("manifest format error")
	ErrPrecondition    = errors.New("precondition failed")
	ErrRemoteExecution = errors.New("remote execution error")
	ErrTransfer        = errors.New("transfer error")
	ErrStageExecution  = errors.New("stage execution error")
	ErrTimeout         = errors.New("timeout")
	ErrConfiguration   = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrRemoteExecution
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err should stop the whole run rather than a single job.
func IsFatal(err error) bool {
	return errors.Is(err, ErrManifestFormat) || errors.Is(err, ErrConfiguration)
}

// Kind returns a short classification label for err, used by the run store.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrStageExecution):
		return "stage"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	case errors.Is(err, ErrRemoteExecution):
		return "remote"
	case errors.Is(err, ErrManifestFormat):
		return "manifest"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

// ErrorDetails is the human-facing view of a wrapped error.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Details strips marker prefixes so ledger lines read naturally.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrManifestFormat, ErrPrecondition, ErrRemoteExecution, ErrTransfer, ErrStageExecution, ErrConfiguration} {
		msg = strings.TrimPrefix(msg, marker.Error()+": ")
	}
	return ErrorDetails{Kind: Kind(err), Message: msg}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
