package domain

import (
	"errors"
	"fmt"
)

// Classification tells the orchestrator how an error from a collaborator may
// be handled. Leaf components classify; the orchestrator decides retry
// counts and backoff.
type Classification int

const (
	// ClassFatal errors end the run immediately.
	ClassFatal Classification = iota
	// ClassTransient errors are retried with backoff at the calling stage.
	ClassTransient
	// ClassTimeout marks an operation-local deadline exceeded. Retried a
	// bounded number of times, then fatal for the run.
	ClassTimeout
	// ClassValidation marks an identity-specific rejection by the target
	// page. Retried with a fresh identity, bounded.
	ClassValidation
	// ClassCaptchaRejected marks a wrong or unusable captcha answer.
	// Retried within the captcha sub-loop, bounded.
	ClassCaptchaRejected
	// ClassContractBroken marks a page or provider no longer matching the
	// expected structure. Never retried.
	ClassContractBroken
)

func (c Classification) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTimeout:
		return "timeout"
	case ClassValidation:
		return "validation"
	case ClassCaptchaRejected:
		return "captcha_rejected"
	case ClassContractBroken:
		return "contract_broken"
	default:
		return "fatal"
	}
}

var (
	ErrLaunch             = errors.New("browser engine failed to start")
	ErrNavigationTimeout  = errors.New("navigation timed out")
	ErrElementNotFound    = errors.New("element not found")
	ErrMailboxDeactivated = errors.New("mailbox deactivated")
	ErrConfirmationWait   = errors.New("timed out waiting for confirmation message")
	ErrBackendsExhausted  = errors.New("all transcription backends exhausted")
	ErrAccountNotFound    = errors.New("account not found")
)

// ClassifiedError attaches a Classification to an underlying error.
type ClassifiedError struct {
	Class Classification
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func Classified(class Classification, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

func Transient(err error) error { return Classified(ClassTransient, err) }

func Fatal(err error) error { return Classified(ClassFatal, err) }

// ClassOf reports the classification of err. Unclassified errors are fatal,
// except for the sentinels with a well-known meaning.
func ClassOf(err error) Classification {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}
	switch {
	case errors.Is(err, ErrNavigationTimeout):
		return ClassTimeout
	case errors.Is(err, ErrElementNotFound):
		return ClassContractBroken
	case errors.Is(err, ErrBackendsExhausted):
		return ClassCaptchaRejected
	}
	return ClassFatal
}

// Retryable reports whether err may be retried in place with backoff.
func Retryable(err error) bool {
	class := ClassOf(err)
	return class == ClassTransient || class == ClassTimeout
}
