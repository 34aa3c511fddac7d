package progress

import "errors"

var (
	ErrSectionNotStarted = errors.New("section not started")
	ErrUnknownSection    = errors.New("section not part of course")
	ErrInvalidProgress   = errors.New("invalid section progress record")
)
