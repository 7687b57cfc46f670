package types

import (
	"errors"
	"fmt"
)

// ErrorKind partitions replay failures into the categories upper layers key
// decisions on. Kinds, not concrete types: errors.As against the structs
// below recovers the details.
type ErrorKind string

const (
	KindTransport         ErrorKind = "TransportError"
	KindNotFound          ErrorKind = "NotFound"
	KindDecode            ErrorKind = "DecodeError"
	KindLinker            ErrorKind = "LinkerError"
	KindMissingObject     ErrorKind = "MissingObject"
	KindMissingPackage    ErrorKind = "MissingPackage"
	KindUnsupportedNative ErrorKind = "UnsupportedNative"
	KindMoveAbort         ErrorKind = "MoveAbort"
	KindEffectsMismatch   ErrorKind = "EffectsMismatch"
)

// UnsupportedNativeAbortCode is the distinguished Move abort code the harness
// raises when execution reaches a native marked "cannot be simulated".
// Upper layers recognize it without string matching.
const UnsupportedNativeAbortCode uint64 = 0xDEAD_0001

// TransportError wraps a retryable transport failure with its endpoint.
type TransportError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError signals a confirmed, non-retryable absence.
type NotFoundError struct {
	What    string // "object", "package", "transaction", "checkpoint"
	ID      string
	Version *uint64
}

func (e *NotFoundError) Error() string {
	if e.Version != nil {
		return fmt.Sprintf("%s %s@%d not found", e.What, e.ID, *e.Version)
	}
	return fmt.Sprintf("%s %s not found", e.What, e.ID)
}

// DecodeError signals malformed BCS or a corrupt persisted record; fatal for
// that record only.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.What, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// LinkerError signals that the resolver could not locate a module by any
// alias.
type LinkerError struct {
	Address Address
	Module  string
}

func (e *LinkerError) Error() string {
	return fmt.Sprintf("linker: module %s::%s not resolvable", e.Address, e.Module)
}

// MissingObjectError signals a required input object absent under a policy
// that forbids substitution.
type MissingObjectError struct {
	ID      Address
	Version uint64
}

func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("missing object %s@%d", e.ID, e.Version)
}

// MissingPackageError signals unavailable package bytecode.
type MissingPackageError struct {
	Address Address
}

func (e *MissingPackageError) Error() string {
	return fmt.Sprintf("missing package %s", e.Address)
}

// UnsupportedNativeError marks an abort inside a native that cannot be
// simulated offline (signature verification, on-chain randomness, ...).
type UnsupportedNativeError struct {
	Module   string
	Function string
}

func (e *UnsupportedNativeError) Error() string {
	return fmt.Sprintf("unsupported native %s::%s", e.Module, e.Function)
}

// MoveAbortError is a bytecode-level assertion failure.
type MoveAbortError struct {
	Code     uint64
	Location string
}

func (e *MoveAbortError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("move abort %d in %s", e.Code, e.Location)
	}
	return fmt.Sprintf("move abort %d", e.Code)
}

// EffectsMismatchError signals reconciliation divergence under the active
// policy.
type EffectsMismatchError struct {
	Notes []string
}

func (e *EffectsMismatchError) Error() string {
	return fmt.Sprintf("effects mismatch: %v", e.Notes)
}

// KindOf classifies any error into the taxonomy. Unknown errors map to an
// empty kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case isAs[*TransportError](err):
		return KindTransport
	case isAs[*NotFoundError](err):
		return KindNotFound
	case isAs[*DecodeError](err):
		return KindDecode
	case isAs[*LinkerError](err):
		return KindLinker
	case isAs[*MissingObjectError](err):
		return KindMissingObject
	case isAs[*MissingPackageError](err):
		return KindMissingPackage
	case isAs[*UnsupportedNativeError](err):
		return KindUnsupportedNative
	case isAs[*MoveAbortError](err):
		return KindMoveAbort
	case isAs[*EffectsMismatchError](err):
		return KindEffectsMismatch
	}
	return ""
}

// IsRetryable reports whether the error is a transport failure worth
// retrying. NotFound is explicitly non-retryable.
func IsRetryable(err error) bool {
	return isAs[*TransportError](err)
}

func isAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
