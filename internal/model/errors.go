package model

import (
	"errors"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrDuplicateJob   = errors.New("duplicate job")
	ErrUnknownVersion = errors.New("unsupported config version")
)
