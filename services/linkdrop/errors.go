package linkdrop

import (
	"errors"

	"linkdrop/pkg/errutil"
)

var (
	// ErrUnauthorized: the caller is not the contract acting through a
	// credential scoped to the requested method.
	ErrUnauthorized = errors.New("caller is not authorized")
	// ErrMissingEntry: no deposit is outstanding for the key.
	ErrMissingEntry = errors.New("no deposit for public key")
	// ErrInsufficientDeposit: the attached value is below the required minimum.
	ErrInsufficientDeposit = errors.New("attached deposit below minimum")
	// ErrMalformedContinuation: the continuation did not receive exactly one
	// factory result.
	ErrMalformedContinuation = errors.New("continuation expects exactly one result")
)

func unauthorized() error {
	return errutil.Unauthorized("unauthorized", ErrUnauthorized)
}

func missingEntry() error {
	return errutil.NotFound("deposit not found", ErrMissingEntry)
}

func insufficientDeposit(min string) error {
	return errutil.UnprocessableEntity("insufficient deposit", ErrInsufficientDeposit,
		errutil.WithDetails(errutil.Detail{Field: "amount", Message: "must be at least " + min}))
}

func malformedContinuation() error {
	return errutil.Internal("malformed continuation", ErrMalformedContinuation)
}
