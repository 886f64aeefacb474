package buffer

import "errors"

var (
	ErrBusy               = errors.New("buffer: pool still mapped")
	ErrNoSuchBuffer       = errors.New("buffer: no such buffer")
	ErrStaleHandle        = errors.New("buffer: stale handle")
	ErrTooManyUserBuffers = errors.New("buffer: too many queued user buffers, dequeue one first")
	ErrBadUserPointer     = errors.New("buffer: invalid user pointer")
)
