package types

import (
	"errors"
	"fmt"
	"strings"
)

// Capability names an external capability for error reporting.
type Capability string

const (
	CapabilityEmbedding  Capability = "embedding"
	CapabilityIndex      Capability = "vector index"
	CapabilityGeneration Capability = "generation"
)

// InvalidInputError marks bad parameters or configuration. Caller's fault,
// never retried.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UnavailableError marks a transient external-capability fault that
// survived the adapter's bounded retries.
type UnavailableError struct {
	Capability Capability
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Capability, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an UnavailableError for the given capability.
// Already-wrapped errors pass through so the original capability survives.
func Unavailable(capability Capability, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Capability: capability, Err: err}
}

// IsUnavailable reports whether err is an UnavailableError for capability.
func IsUnavailable(err error, capability Capability) bool {
	var ue *UnavailableError
	return errors.As(err, &ue) && ue.Capability == capability
}

// UpsertError reports the identifiers of a batch that did not persist, so
// ingestion can retry or record exactly what is missing.
type UpsertError struct {
	FailedIDs []string
	Err       error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert failed for %d entries (%s): %v",
		len(e.FailedIDs), strings.Join(e.FailedIDs, ", "), e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}

// ErrIngestRunning is returned when a second ingestion run is attempted
// while one is in flight. Ingestion runs are exclusive.
var ErrIngestRunning = errors.New("ingestion already in progress")
