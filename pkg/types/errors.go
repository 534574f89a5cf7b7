package types

import "errors"

// Domain validation errors shared across components.
var (
	ErrInvalidID         = errors.New("identifier must be 1-64 characters of [a-zA-Z0-9_-]")
	ErrInvalidPIN        = errors.New("pin must be 4-8 digits")
	ErrEmptyAnswers      = errors.New("submission must contain at least one answer")
	ErrMissingSession    = errors.New("submission missing session id")
	ErrMissingStudent    = errors.New("submission missing student id")
	ErrInvalidStatus     = errors.New("unknown feedback status")
	ErrEmptyQuestionList = errors.New("assessment must contain at least one question")
	ErrInvalidMaxScore   = errors.New("question max score must be positive")
	ErrInvalidTitle      = errors.New("assessment title must be 1-200 characters")
)
