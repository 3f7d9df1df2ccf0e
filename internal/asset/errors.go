package asset

import "errors"

var (
	// ErrUnknownAsset is returned when a mint or symbol is not registered.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrInvalidAmount is returned for non-positive amounts and amounts
	// that convert to zero smallest units.
	ErrInvalidAmount = errors.New("invalid amount")
)
