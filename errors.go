package main

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateUser         = errors.New("auth: user already exists")
	ErrEmailTaken            = fmt.Errorf("%w: email already registered", ErrDuplicateUser)
	ErrUsernameTaken         = fmt.Errorf("%w: username already taken", ErrDuplicateUser)
	ErrBadCredentials        = errors.New("auth: bad credentials")
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired token")

	// ErrNotFound also covers images owned by another user.
	ErrNotFound        = errors.New("store: not found")
	ErrUnexpectedStore = errors.New("store: unexpected error")

	ErrNoFiles             = errors.New("gallery: no files provided")
	ErrQuotaExceeded       = errors.New("gallery: free tier quota exceeded")
	ErrUnsupportedFileType = errors.New("files: unsupported file type")
	ErrFileTooLarge        = errors.New("files: file too large")
	ErrFilesystem          = errors.New("files: filesystem error")
)

// RedirectError ends a request with a flash message and a redirect to a
// safe page.
type RedirectError struct {
	Err     error
	To      string
	Message string
}

func (e *RedirectError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return e.Message
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

func redirectTo(to, message string, err error) *RedirectError {
	return &RedirectError{Err: err, To: to, Message: message}
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnexpectedStore, op, err)
}

func filesystemError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrFilesystem, op, err)
}
