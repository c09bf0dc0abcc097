// Package db defines the storage contracts shared by every store backend:
// the error taxonomy, version selectors, entity identifiers and the mapping
// interfaces that bind chain-specific domain types to persisted rows.
package db

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a referenced entity has no row: an unknown
// contract or token on a point lookup, or a version selector naming a block
// with no recorded changes.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find %s with id or key %q", e.Entity, e.ID)
}

// DecodeError reports stored data that cannot be turned back into a domain
// value: a fixed-width field with the wrong byte length, an enum text with
// no mapping, an unparsable structured attribute, or a change row whose
// referenced entity is missing. Decode failures are not retryable.
type DecodeError struct {
	Msg string
}

func Decodef(format string, args ...any) *DecodeError {
	return &DecodeError{Msg: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Error() string {
	return e.Msg
}

// StoreError wraps a failure of the underlying store (connection, query,
// transaction). The cause is reachable through errors.Unwrap.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDecodeError reports whether err is, or wraps, a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsStoreError reports whether err is, or wraps, a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
