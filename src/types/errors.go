package types

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("status changed concurrently")
	ErrValidation      = errors.New("validation failed")
	ErrAlreadyMinted   = errors.New("nft already minted for order")
	ErrNotMintable     = errors.New("order is not eligible for minting")
	ErrInFlight        = errors.New("request already in progress")
	ErrPaymentRequired = errors.New("no successful payment recorded")
	ErrInvalidEdge     = errors.New("status transition not allowed")
)

// ValidationError is a permanent rejection of caller-supplied data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
