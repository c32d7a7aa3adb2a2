package models

import (
	"errors"
	"fmt"
)

var (
	ErrPositionNotFound     = errors.New("position not found")
	ErrInsufficientQuantity = errors.New("cannot sell more than you own")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrQuoteProvider        = errors.New("quote providers failed")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAmountOutOfRange     = errors.New("amount out of range")
)

// InsufficientQuantityError reports an attempted sell above the held quantity.
type InsufficientQuantityError struct {
	PositionID int64
	Requested  int64
	Held       int64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("%v: position %d holds %d, requested %d", ErrInsufficientQuantity, e.PositionID, e.Held, e.Requested)
}

func (e *InsufficientQuantityError) Unwrap() error { return ErrInsufficientQuantity }
