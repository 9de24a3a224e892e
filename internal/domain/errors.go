package domain

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// current connection state (e.g. connect while stalled).
	ErrInvalidState = errors.New("invalid connection state")

	// ErrNotConnected is returned by the transport when a subscription is
	// attempted without an established session.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownInstrument is returned when prices are written for an
	// instrument with no master record.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrInvalidRange is returned for queries where from > to.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrFutureBar is returned when a bar timestamp lies in the future.
	ErrFutureBar = errors.New("bar timestamp in the future")

	// ErrAlreadySubscribed is returned when a second live subscription is
	// requested for the same item key.
	ErrAlreadySubscribed = errors.New("item already subscribed")

	// ErrSubscriptionFailed marks a feed terminated by an unrecoverable
	// subscription error from the transport.
	ErrSubscriptionFailed = errors.New("subscription failed")
)
