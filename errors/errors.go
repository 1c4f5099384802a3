package errors

import "fmt"

// Admission and submit taxonomy. Admission failures are terminal for the
// connection, submit failures are answered with a local error frame.
var (
	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrNotFound        = fmt.Errorf("not found")
	ErrForbidden       = fmt.Errorf("forbidden")
	ErrValidation      = fmt.Errorf("validation error")
	ErrDeliveryFailure = fmt.Errorf("delivery failure")
)

var (
	ErrInvalidJSON    = fmt.Errorf("%w: invalid json payload", ErrValidation)
	ErrEmptyMessage   = fmt.Errorf("%w: message content required", ErrValidation)
	ErrMessageTooLong = fmt.Errorf("%w: message too long", ErrValidation)
	ErrFrameTooLarge  = fmt.Errorf("%w: frame over the read limit", ErrMessageTooLong)

	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrDeliveryFailure)
	ErrSlowConsumer     = fmt.Errorf("%w: outbound buffer full", ErrDeliveryFailure)

	ErrInvalidToken  = fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	ErrInvalidDirect = fmt.Errorf("%w: a direct conversation needs exactly two members", ErrValidation)
	ErrUnknownDriver = fmt.Errorf("unknown store driver")
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")
)
