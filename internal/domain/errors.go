package domain

import "errors"

var (
	ErrInvalidRole    = errors.New("invalid message role")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrActorDisposed  = errors.New("actor disposed")
	ErrInvalidActorID = errors.New("invalid actor id")
	ErrPersist        = errors.New("persistence failed")
)
