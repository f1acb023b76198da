package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnsupportedKind = errors.New("unsupported order kind")
	ErrPoolExhausted   = errors.New("pool price tier unavailable")
	ErrNoPrice         = errors.New("no price available")
	ErrInvalidRawOrder = errors.New("invalid raw order")
)
