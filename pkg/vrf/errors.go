package vrf

import "errors"

// Subscription errors.
var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidConsumer     = errors.New("invalid consumer")
	ErrTooManyConsumers    = errors.New("too many consumers")
	ErrInsufficientBalance = errors.New("insufficient subscription balance")
	ErrInvalidAmount       = errors.New("invalid funding amount")
)

// Request errors.
var (
	ErrNonexistentRequest = errors.New("nonexistent request")
	ErrInvalidRandomWords = errors.New("invalid random words")
	ErrNumWordsTooBig     = errors.New("num words too big")
	ErrNoConsumerContract = errors.New("no contract attached at consumer address")
)
