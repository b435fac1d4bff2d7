// Package poolerrors defines the reason-coded error type surfaced by the
// pool and its peer-to-peer protocol.
package poolerrors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

const (
	StatusReasonUnknown Reason = ""
	// StatusReasonMissingRef is returned when a dereference names an id the
	// owner no longer has. A remote miss is unwrapped and re-raised locally
	// with this same reason so callers cannot distinguish local from remote.
	StatusReasonMissingRef Reason = "MissingRef"
	// StatusReasonTransportError wraps an RPC failure talking to a peer.
	StatusReasonTransportError Reason = "TransportError"
	// StatusReasonIOError wraps a disk failure (spill write, restore read).
	StatusReasonIOError Reason = "IOError"
	// StatusReasonPreconditionViolation indicates unref without a prior ref,
	// a bug in finalizer wiring. It must never be swallowed.
	StatusReasonPreconditionViolation Reason = "PreconditionViolation"
)

type Reason string

// Status is the error value returned across the pool's public API and its
// peer RPC boundary; it round-trips through the wire envelope so the four
// error kinds survive a remote call unchanged.
type Status struct {
	// Status is one of: "Success" or "Failure".
	Status string `json:"status,omitempty"`
	// Code is the suggested HTTP status for transports that want one.
	Code int32 `json:"code,omitempty"`
	// Message is a human-readable description.
	Message string `json:"message,omitempty"`
	// Reason is the machine-readable kind.
	Reason Reason `json:"reason,omitempty"`
}

func (s *Status) Error() string {
	return s.Message
}

func NewMissingRef(owner, id any) *Status {
	message := fmt.Sprintf("ref (%v,%v) not found on owner", owner, id)
	return &Status{Status: StatusFailure, Code: http.StatusNotFound, Reason: StatusReasonMissingRef, Message: message}
}

func NewTransportError(err error) *Status {
	message := fmt.Sprintf("transport error: %v", err)
	return &Status{Status: StatusFailure, Code: http.StatusBadGateway, Reason: StatusReasonTransportError, Message: message}
}

func NewIOError(op string, err error) *Status {
	message := fmt.Sprintf("%s: %v", op, err)
	return &Status{Status: StatusFailure, Code: http.StatusInternalServerError, Reason: StatusReasonIOError, Message: message}
}

func NewPreconditionViolation(message string) *Status {
	return &Status{Status: StatusFailure, Code: http.StatusConflict, Reason: StatusReasonPreconditionViolation, Message: message}
}

func NewCustomError(code int, reason Reason, message string) *Status {
	return &Status{Status: StatusFailure, Code: int32(code), Reason: reason, Message: message}
}

func IsMissingRef(err error) bool {
	return ReasonForError(err) == StatusReasonMissingRef
}

func IsTransportError(err error) bool {
	return ReasonForError(err) == StatusReasonTransportError
}

func IsIOError(err error) bool {
	return ReasonForError(err) == StatusReasonIOError
}

func IsPreconditionViolation(err error) bool {
	return ReasonForError(err) == StatusReasonPreconditionViolation
}

func ReasonForError(err error) Reason {
	if status, ok := err.(*Status); ok || errors.As(err, &status) {
		return status.Reason
	}
	return StatusReasonUnknown
}

func IgnoreMissingRef(err error) error {
	if IsMissingRef(err) {
		return nil
	}
	return err
}
