package device

import "errors"

var (
	// ErrIndexOutOfRange is returned when an operation references a
	// com-object index outside the attached table.
	ErrIndexOutOfRange = errors.New("device: com-object index out of range")

	// ErrNotWritable is returned by WriteLong for an object whose
	// length does not exceed 2 bytes (use Write instead).
	ErrNotWritable = errors.New("device: object does not accept this write form")
)
