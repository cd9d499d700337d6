package coreapi

import (
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// ErrorKind is the tagged-variant discriminant of a HandlingError, ported
// from the Kinds enumerated in the spec's error handling design: each kind
// has a fixed disposition when materialised into a wire response.
type ErrorKind int

const (
	// KindNotHandled means the resource declined the request outright (for
	// example the discovery resource silently ignoring a non-matching
	// multicast query). No response code is attached and no reply is sent.
	KindNotHandled ErrorKind = iota
	KindNotFound
	KindBadRequest
	KindMethodNotAllowed
	KindInternal
)

// HandlingError is the tagged variant returned by a Resource.Handle (or by
// the router itself on a miss): an optional response-code hint plus a
// human-readable message. A missing code (KindNotHandled) means the
// request should be silently dropped rather than answered.
type HandlingError struct {
	Kind    ErrorKind
	Message string
}

func (e *HandlingError) Error() string {
	return e.Message
}

// NotHandled constructs the "resource declines" variant. Used by resources
// that decline to answer at all (e.g. discovery with an empty filter
// result and suppression enabled).
func NotHandled() *HandlingError {
	return &HandlingError{Kind: KindNotHandled, Message: "not handled"}
}

// NotFound constructs the 4.04 variant.
func NotFound() *HandlingError {
	return &HandlingError{Kind: KindNotFound, Message: "Not found"}
}

// BadRequest constructs the 4.00 variant with a formatted message.
func BadRequest(msg string) *HandlingError {
	return &HandlingError{Kind: KindBadRequest, Message: msg}
}

// MethodNotAllowed constructs the 4.05 variant.
func MethodNotAllowed() *HandlingError {
	return &HandlingError{Kind: KindMethodNotAllowed, Message: "Method not supported"}
}

// Internal constructs the 5.00 variant, wrapping an underlying error's
// message.
func Internal(err error) *HandlingError {
	return &HandlingError{Kind: KindInternal, Message: err.Error()}
}

// Code maps the error kind to its CoAP response code. KindNotHandled has
// no meaningful code; callers must check HasCode first.
func (e *HandlingError) Code() codes.Code {
	switch e.Kind {
	case KindNotFound:
		return codes.NotFound
	case KindBadRequest:
		return codes.BadRequest
	case KindMethodNotAllowed:
		return codes.MethodNotAllowed
	case KindInternal:
		return codes.InternalServerError
	default:
		return codes.InternalServerError
	}
}

// HasCode reports whether this error should be materialised into a
// response at all. KindNotHandled is the only kind that drops the reply.
func (e *HandlingError) HasCode() bool {
	return e.Kind != KindNotHandled
}
