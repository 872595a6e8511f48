package server

import "errors"

// Error taxonomy of the event core. Presence, typing and receipt races
// are absorbed by monotonicity and idempotence rules and are never
// reported through these.
var (
	// ErrAuthenticationFailure terminates the connection attempt outright.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrForbidden rejects an action on a room the identity is not a member of.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound rejects events naming a room unknown to the store.
	ErrNotFound = errors.New("not found")
	// ErrPersistenceFailure means the store could not durably record a
	// message; the message is not fanned out.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrDeliveryFault is an isolated per-connection push failure. It never
	// aborts the broader fan-out and is never surfaced to the sender.
	ErrDeliveryFault = errors.New("delivery fault")
)
