package domain

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidMedia is returned when submitted media cannot be decoded.
	ErrInvalidMedia = errors.New("invalid base64 media")

	// ErrInsufficientCredits is returned when a redemption exceeds the balance.
	ErrInsufficientCredits = errors.New("not enough credits to redeem this reward")

	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateReport is returned when a user files the same lost & found report twice.
	ErrDuplicateReport = errors.New("duplicate lost & found report detected for this user")

	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid status")
)
