package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
	ErrUnknownPlatformFee = errors.New("unknown platform fee")
	ErrWSDisconnect       = errors.New("websocket disconnected")
)
