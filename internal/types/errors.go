package types

import "errors"

// Domain error kinds. Services wrap these with fmt.Errorf("...: %w") so
// the HTTP layer can map them to stable error codes with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidState         = errors.New("invalid order state")
)
