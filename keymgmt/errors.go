package keymgmt

import (
	"errors"
	"fmt"
)

// Sentinel errors - invalid state
var ErrNotEmpty = errors.New("keymgmt: record not empty, keys are immutable")

// Sentinel errors - operations
var (
	ErrConstruction = errors.New("keymgmt: key construction failed")
	ErrUnsupported  = errors.New("keymgmt: not supported")
	ErrNotFound     = errors.New("keymgmt: no key for reference")
	ErrNoPublicKey  = errors.New("keymgmt: record has no public key")
	ErrNilRecord    = errors.New("keymgmt: nil record")
)

// OpError wraps an error with operation and record context.
type OpError struct {
	Op       string
	Family   string
	RecordID string
	Err      error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("%s %s: %v", e.Family, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s record %s: %v", e.Family, e.Op, e.RecordID, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *OpError) Unwrap() error {
	return e.Err
}

func wrapOp(op, family, recordID string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Family: family, RecordID: recordID, Err: err}
}
