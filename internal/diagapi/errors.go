package diagapi

import "errors"

var (
	// ErrMissingToken is returned when a mutating request carries no
	// Authorization header.
	ErrMissingToken = errors.New("diagapi: missing bearer token")

	// ErrInvalidToken is returned when a bearer token fails signature
	// or expiry validation.
	ErrInvalidToken = errors.New("diagapi: invalid bearer token")

	// ErrObjectNotFound is returned when a request references a group
	// address not present in the attached com-object table.
	ErrObjectNotFound = errors.New("diagapi: no com-object at that group address")

	errMissingValue = errors.New("diagapi: request must set value, long_value_hex or decoded_value")
)
