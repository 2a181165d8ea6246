package zbcoll

import (
	"log/slog"

	"github.com/pkg/errors"
)

var (
	// ErrAgain is returned when an operation is already in flight on the
	// object, or when another object is negotiating a group id on the same
	// endpoint. The caller should progress the endpoint and retry.
	ErrAgain = errors.New("zbcoll: operation in progress, try again")

	// ErrInvalid is returned for operations that can never succeed on the
	// object in its current state.
	ErrInvalid = errors.New("zbcoll: invalid operation")

	// ErrBusy is reported through Err when no group id is free on every
	// participant. Freeing an object releases its id.
	ErrBusy = errors.New("zbcoll: no group id available")

	// ErrPeerNotFound is returned by Alloc when the local address is not a
	// member of the address list.
	ErrPeerNotFound = errors.New("zbcoll: local address not in address list")

	// ErrSimTooLarge is returned when a simulation exceeds SimMax ranks.
	ErrSimTooLarge = errors.New("zbcoll: simulation too large")

	// ErrUnreachable is reported by transports for sends to an address that
	// cannot be reached.
	ErrUnreachable = errors.New("zbcoll: destination unreachable")
)

// errAttr logs err by its message; the %+v form of pkg/errors values carries
// a stack trace. A nil err yields an empty attribute, which handlers drop.
func errAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", err.Error())
}
