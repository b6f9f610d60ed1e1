package bankd

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer = errors.New("internal server error")
)

type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	if e.Resource == "" {
		return "record not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ErrClientDoesNotExist is raised when an account create or update names
// an owner that cannot be resolved. It is a business-rule failure on a
// write, not a plain lookup miss.
type ErrClientDoesNotExist struct {
	ID int
}

func (e ErrClientDoesNotExist) Error() string {
	return fmt.Sprintf("client %d does not exist", e.ID)
}

type ErrWrongBookingType struct {
	Expected string
}

func (e ErrWrongBookingType) Error() string {
	return fmt.Sprintf("booking type must be %q", e.Expected)
}

type ErrInsufficientFunds struct {
	IBAN string
}

func (e ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("amount not available on account %s", e.IBAN)
}

// ErrIllegalState covers deletion guards: an account with a non-zero
// balance, or a client that still owns accounts.
type ErrIllegalState struct {
	Reason string
}

func (e ErrIllegalState) Error() string {
	return e.Reason
}

type ErrIllegalArgument struct {
	Reason string
}

func (e ErrIllegalArgument) Error() string {
	return e.Reason
}

// Violation describes a single failed field constraint in a request
// payload.
type Violation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint,omitempty"`
	Message    string `json:"message"`
}

type ErrValidation struct {
	Violations []Violation
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("request violates %d constraint(s)", len(e.Violations))
}

// ErrConflict signals a storage-level unique constraint violation, e.g.
// two concurrent account creations drawing the same IBAN. The service
// retries IBAN generation on it.
type ErrConflict struct {
	Key string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("conflicting key %q", e.Key)
}

type ErrExhaustedIBANSpace struct{}

func (e ErrExhaustedIBANSpace) Error() string {
	return "account number space exhausted"
}
