package data

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("record not found")

	ErrCameraUnreachable          = errors.New("camera unreachable")
	ErrFaceMatchDegraded          = errors.New("face match degraded")
	ErrAIProvider                 = errors.New("ai provider error")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrPersistenceFailed          = errors.New("persistence failed")
	ErrPatrolCameraTimeout        = errors.New("patrol camera timeout")
)

// ProviderError is returned by vision provider adapters.
type ProviderError struct {
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai provider: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrAIProvider }

// IsPermanentStatus is the HTTP classification shared by the HTTP adapters:
// timeouts, throttling and 5xx are retryable, other 4xx are not.
func IsPermanentStatus(code int) bool {
	switch {
	case code == 408, code == 425, code == 429:
		return false
	case code >= 500:
		return false
	default:
		return code >= 400
	}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Context cancellation
// counts as permanent because the caller has given up.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var pe permanentError
	if errors.As(err, &pe) {
		return true
	}
	var prov *ProviderError
	if errors.As(err, &prov) {
		return prov.Permanent
	}
	return false
}
