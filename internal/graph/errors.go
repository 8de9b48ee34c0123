package graph

import "errors"

var (
	ErrConnection    = errors.New("graph: connection failed")
	ErrActivation    = errors.New("graph: activation failed")
	ErrConfiguration = errors.New("graph: not configured")
	ErrSave          = errors.New("graph: session save failed")
)
