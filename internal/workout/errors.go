package workout

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidScope    = errors.New("invalid scope")
	ErrNoValidDays     = errors.New("no valid plan days")
)
