package emotion

import "errors"

var (
	ErrUnavailable     = errors.New("emotion service unavailable")
	ErrInvalidResponse = errors.New("invalid response from emotion service")
	ErrNoFace          = errors.New("no emotion in response")
)
