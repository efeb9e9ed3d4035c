package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidChannel      = errors.New("invalid channel: must be sms, email, or push")
	ErrNoRecipients        = errors.New("request must have at least one recipient")
	ErrNoChannels          = errors.New("request must have at least one channel")
	ErrNoSenders           = errors.New("request must have at least one sender")
	ErrContentExclusive    = errors.New("exactly one of content or template must be provided")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyCanceled     = errors.New("request is already canceled")
	ErrNotCancelable       = errors.New("request cannot be canceled in its current status")
	ErrRetryNotInFuture    = errors.New("next retry time must be in the future")
	ErrRetryBeforeCreation = errors.New("next retry time precedes creation beyond tolerance")
	ErrMissingSender       = errors.New("no sender configured for requested channel")
	ErrNoPublisher         = errors.New("no publisher registered for channel")
	ErrUnknownRecipient    = errors.New("unknown recipient reference type")
	ErrUnknownSender       = errors.New("unknown sender channel")
	ErrConflict            = errors.New("conflict: record already exists")
	ErrNotDead             = errors.New("outbox record is not dead-lettered")
)

// PermanentError wraps a failure that must not be retried. The outbox drain
// engine short-circuits the backoff schedule for these and finalizes the
// record immediately instead of scheduling another attempt.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether any error in the chain is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
