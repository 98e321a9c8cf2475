package model

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation       ErrorKind = "ValidationError"
	KindData             ErrorKind = "DataError"
	KindComputation      ErrorKind = "ComputationError"
	KindTimeout          ErrorKind = "TimeoutError"
	KindConcurrencyLimit ErrorKind = "ConcurrencyLimitError"
	KindCancelled        ErrorKind = "CancelledError"
	KindInternal         ErrorKind = "InternalError"
)

var (
	ErrJobNotFound = errors.New("backtest job not found")
	ErrJobRunning  = errors.New("backtest job is running")
)

// Error carries one of the pipeline error kinds.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NewDataError(msg string, err error) error {
	return &Error{Kind: KindData, Message: msg, Err: err}
}

// NewComputationError names the indicator or metric that failed.
func NewComputationError(name, msg string) error {
	return &Error{Kind: KindComputation, Message: fmt.Sprintf("%s: %s", name, msg)}
}

func NewTimeoutError(msg string, err error) error {
	return &Error{Kind: KindTimeout, Message: msg, Err: err}
}

func NewConcurrencyLimitError(msg string) error {
	return &Error{Kind: KindConcurrencyLimit, Message: msg}
}

func NewCancelledError(msg string, err error) error {
	return &Error{Kind: KindCancelled, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
