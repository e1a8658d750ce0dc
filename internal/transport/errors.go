package transport

import "errors"

// ErrTargetInvalid marks an edit that failed because the target message is
// gone or its id was rejected. Callers recover by sending a new message.
var ErrTargetInvalid = errors.New("transport: edit target invalid")

// IsTargetInvalid reports whether err belongs to the target-invalid class.
func IsTargetInvalid(err error) bool {
	return errors.Is(err, ErrTargetInvalid)
}
