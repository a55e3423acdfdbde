package s7

import (
	"errors"
	"fmt"
)

// S7 AckData error classes (connection/PDU-level, distinct from the
// per-item Return* codes in types.go).
const (
	errClassNoError     = 0x00
	errClassAppRelation = 0x81
	errClassObjDef      = 0x82
	errClassResource    = 0x83
	errClassService     = 0x84
	errClassNoResource  = 0x85 // often: PDU size exceeded
	errClassAccess      = 0x87
)

// S7Error represents a nonzero error-class/error-code pair carried in an
// AckData PDU header (§4.1, §4.3 "error class/code fields of AckData").
type S7Error struct {
	Class byte
	Code  byte
}

func (e S7Error) Error() string {
	return s7ErrorMessage(e.Class, e.Code)
}

func s7ErrorMessage(class, code byte) string {
	switch class {
	case errClassNoError:
		return "no error"
	case errClassAppRelation:
		return fmt.Sprintf("application relationship error (code %d)", code)
	case errClassObjDef:
		return fmt.Sprintf("object definition error (code %d)", code)
	case errClassResource:
		return fmt.Sprintf("resource error (code %d)", code)
	case errClassService:
		return fmt.Sprintf("service error (code %d)", code)
	case errClassNoResource:
		return fmt.Sprintf("no resource available - request may exceed PDU size (code %d)", code)
	case errClassAccess:
		return fmt.Sprintf("access error (code %d)", code)
	default:
		return fmt.Sprintf("S7 error class 0x%02X code %d", class, code)
	}
}

// Kind is the stable error classification named in SPEC_FULL.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindParseAddr
	KindInvalidArgument
	KindIllegalState
	KindNotConnected
	KindTimeout
	KindInterrupted
	KindItemTooBig
	KindUnexpectedResponse
	KindPLCError  // context: S7Error (AckData class/code)
	KindItemError // context: a per-item Return* code
)

func (k Kind) String() string {
	switch k {
	case KindParseAddr:
		return "ERR_PARSE_ADDR"
	case KindInvalidArgument:
		return "ERR_INVALID_ARGUMENT"
	case KindIllegalState:
		return "ERR_ILLEGAL_STATE"
	case KindNotConnected:
		return "ERR_NOT_CONNECTED"
	case KindTimeout:
		return "ERR_TIMEOUT"
	case KindInterrupted:
		return "ERR_INTERRUPTED"
	case KindItemTooBig:
		return "ERR_ITEM_TOO_BIG"
	case KindUnexpectedResponse:
		return "ERR_UNEXPECTED_RESPONSE"
	case KindPLCError:
		return "ERR_PLC_ERROR"
	case KindItemError:
		return "ERR_ITEM"
	default:
		return "ERR_UNKNOWN"
	}
}

// Error is the concrete error type returned by every exported operation in
// this package. It carries a stable Kind plus an optional wrapped cause and
// free-form context, following the teacher's preference (S7Error above) for
// concrete typed errors over a generic context bag.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("s7: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("s7: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// itemError builds the per-item read/write failure named in §7 ("the code
// itself is the kind; a human-readable description accompanies it").
func itemError(code byte) *Error {
	return &Error{
		Kind:    KindItemError,
		Message: returnCodeMessage(code),
		Cause:   itemReturnCode(code),
	}
}

// itemReturnCode lets callers errors.As into the raw return code.
type itemReturnCode byte

func (c itemReturnCode) Error() string { return returnCodeMessage(byte(c)) }

// plcError wraps an AckData-level error-class/code pair.
func plcError(class, code byte) *Error {
	return &Error{Kind: KindPLCError, Message: "ackdata error", Cause: S7Error{Class: class, Code: code}}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
