package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnreadable is returned when the export file cannot be opened or has no usable header
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrMalformedRow is returned for a row that cannot be split into the header's columns
	ErrMalformedRow = errors.New("malformed row")

	// ErrMalformedPrice is returned when a price cell matches no supported notation
	ErrMalformedPrice = errors.New("malformed price")

	// ErrJobAlreadyRunning is returned when another process holds the job lock
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrLockNotHeld means this process no longer owns the job lock, at release or mid-run
	ErrLockNotHeld = errors.New("job lock not held")

	// ErrCheckpointCorrupt is returned when a stored checkpoint cannot be trusted
	ErrCheckpointCorrupt = errors.New("checkpoint unreadable or corrupt")

	// ErrValidation is returned when the catalog rejects a payload
	ErrValidation = errors.New("catalog validation rejected")

	// ErrRateLimited is returned when the catalog throttles a request
	ErrRateLimited = errors.New("catalog rate limit exceeded")

	// ErrRemoteUnavailable is returned on timeouts, network failures and 5xx responses
	ErrRemoteUnavailable = errors.New("catalog unavailable")

	// ErrTransient marks a failure that may succeed when retried
	ErrTransient = errors.New("transient failure")

	// ErrPartialUpsert is returned when the product header was written but a variant was not
	ErrPartialUpsert = errors.New("partial upsert")

	// ErrNotFound is returned when a catalog entity does not exist
	ErrNotFound = errors.New("not found")
)

// UpsertError describes a failed catalog write and whether retrying can help
type UpsertError struct {
	SKU        string
	VariantSKU string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *UpsertError) Error() string {
	target := e.SKU
	if e.VariantSKU != "" {
		target = fmt.Sprintf("%s variant %s", e.SKU, e.VariantSKU)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("upsert %s: status %d: %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upsert %s: %v", target, e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var ue *UpsertError
	if errors.As(err, &ue) {
		return ue.Transient
	}
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrRemoteUnavailable)
}

// IsFatal reports whether err must abort the whole run
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceUnreadable) ||
		errors.Is(err, ErrJobAlreadyRunning) ||
		errors.Is(err, ErrLockNotHeld) ||
		errors.Is(err, ErrCheckpointCorrupt)
}
