package models

import (
	"errors"
	"fmt"
)

var (
	// ErrPhotoNotFound is returned when a queued file names no photo record.
	ErrPhotoNotFound = errors.New("photo not found")

	// ErrMalformedEntry marks queue file names without a "<id>-" prefix.
	ErrMalformedEntry = errors.New("malformed queue entry name")

	// ErrConversionFailed marks a conversion that ran but produced no usable
	// output. Unlike a converter that cannot start, retrying will not help.
	ErrConversionFailed = errors.New("conversion failed")
)

// ProtocolError is a rejected SMTP recipient.
type ProtocolError struct {
	Recipient string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bad recipient: %q", e.Recipient)
}

// ClaimError means the subject token matched no pending photo, or more than one.
type ClaimError struct {
	Token   string
	Matches int
}

func (e *ClaimError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("unknown claim token %q", e.Token)
	}
	return fmt.Sprintf("ambiguous claim token %q: %d pending photos", e.Token, e.Matches)
}

type FormatReason int

const (
	NoAttachment FormatReason = iota + 1
	UndeterminedImageType
	Unparseable
)

func (r FormatReason) String() string {
	switch r {
	case NoAttachment:
		return "no attachment"
	case UndeterminedImageType:
		return "no discernible image type"
	case Unparseable:
		return "unparseable message"
	default:
		return "unknown format error"
	}
}

type MessageFormatError struct {
	Reason FormatReason
	Err    error
}

func (e *MessageFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason.String()
}

func (e *MessageFormatError) Unwrap() error { return e.Err }

// ProcessingInvocationError means the converter could not be run at all.
// The queue file is kept so a later scan retries it.
type ProcessingInvocationError struct {
	Input string
	Err   error
}

func (e *ProcessingInvocationError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.Input, e.Err)
}

func (e *ProcessingInvocationError) Unwrap() error { return e.Err }

type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }
