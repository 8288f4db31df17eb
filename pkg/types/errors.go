// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: timeouts, rate limits,
// 5xx responses and connection resets.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix, such as a
// malformed document or a 4xx response.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ExtractionError reports that a document yielded no usable text. It is
// always permanent.
type ExtractionError struct {
	PaperID string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.PaperID == "" {
		return fmt.Sprintf("extraction failed: %v", e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %v", e.PaperID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ConsistencyError reports a knowledge base whose vector index and
// metadata disagree. It aborts the run.
type ConsistencyError struct {
	Err error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("knowledge base inconsistent: %v", e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid inputs or adapter settings, such as a
// non-positive result count or an embedding dimension mismatch. It aborts
// the run.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
// A permanent or fatal kind closer to the top of the chain wins.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *PermanentError, *ExtractionError:
			return false
		case *TransientError:
			return true
		}
	}
	return false
}

// IsFatal reports whether err must abort the whole run rather than fail a
// single paper.
func IsFatal(err error) bool {
	var ce *ConsistencyError
	var cfg *ConfigurationError
	return errors.As(err, &ce) || errors.As(err, &cfg)
}
