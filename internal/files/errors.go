package files

import "errors"

var (
	ErrEmptyRoot   = errors.New("file store root not configured")
	ErrBadFilename = errors.New("invalid filename")
)
