package hiot

import (
	"errors"
	"fmt"
)

var (
	// ErrAPI matches every error returned by this package.
	ErrAPI = errors.New("hiot api error")

	// ErrAuth indicates a login or session failure that needs fresh
	// credentials: a rejected login, exhausted re-authentication retries, or
	// missing stored credentials.
	ErrAuth = errors.New("hiot authentication error")

	// ErrConnection indicates a transport-level failure (refused connection,
	// timeout, DNS). The caller may retry later.
	ErrConnection = errors.New("hiot connection error")

	// ErrInvalidPayload indicates an encrypted payload that is not a valid
	// salted container.
	ErrInvalidPayload = errors.New("invalid encrypted payload")

	// ErrBadPadding indicates a decrypted payload with invalid PKCS#7 padding,
	// which is what a wrong passphrase produces.
	ErrBadPadding = errors.New("invalid padding")
)

// Error is the concrete error type returned by the client. Kind is one of
// the package sentinels and is matched by errors.Is together with ErrAPI.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	errs := []error{ErrAPI}
	if e.Kind != nil && e.Kind != ErrAPI {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func authError(msg string) error {
	return &Error{Kind: ErrAuth, Msg: msg}
}

func connectionError(err error) error {
	return &Error{Kind: ErrConnection, Msg: "connection error", Err: err}
}

func apiError(msg string, err error) error {
	return &Error{Kind: ErrAPI, Msg: msg, Err: err}
}

// StatusError is returned for any non-2xx response other than a 401.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrAPI
}
