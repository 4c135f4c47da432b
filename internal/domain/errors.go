package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrEmptyContent   = errors.New("content is empty")
	ErrContentTooLong = errors.New("content too long")
	ErrNotFound       = errors.New("not found")
	ErrNoTargets      = errors.New("no valid channels found to send the message")
	ErrAllFailed      = errors.New("failed to send message to any channel")
	ErrUnsupported    = errors.New("operation not supported by this platform")
	ErrConflict       = errors.New("conflict")
)

// Validation codes.
const (
	CodeEmptyContent      = "empty_content"
	CodeContentTooLong    = "content_too_long"
	CodeInvalidTransition = "invalid_transition"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidTimezone   = "invalid_timezone"
	CodeInvalidArgument   = "invalid_argument"
)

// SyntaxError is a malformed directive or reply. It never has side effects.
type SyntaxError struct {
	Flag string
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Flag != "" {
		return "syntax error: " + e.Msg + " (flag " + e.Flag + ")"
	}
	return "syntax error: " + e.Msg
}

// NotFound kinds.
const (
	KindPartner = "partner"
	KindProject = "project"
	KindChannel = "channel"
	KindRecord  = "record"
	KindTag     = "tag"
)

type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string { return e.Kind + " not found: " + e.Key }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(kind, key string) error { return &NotFoundError{Kind: kind, Key: key} }

type ValidationError struct {
	Code string
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrEmptyContent:
		return e.Code == CodeEmptyContent
	case ErrContentTooLong:
		return e.Code == CodeContentTooLong
	}
	return false
}

// TransportError wraps a failed platform call for one target.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IntegrityWarning reports that a correlation key matched more than one record.
type IntegrityWarning struct {
	Key   string
	Count int
}

func (w *IntegrityWarning) Error() string {
	return "integrity warning: " + strconv.Itoa(w.Count) + " records share message id " + w.Key
}

func quote(s string) string { return strconv.Quote(s) }
