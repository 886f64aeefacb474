package vout

import (
	"errors"

	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/stream"
)

var (
	ErrInvalidIndex  = errors.New("vout: buffer index out of range")
	ErrAlreadyQueued = errors.New("vout: buffer already queued")
	ErrInvalidMemory = errors.New("vout: invalid memory type")
	ErrInvalidValue  = errors.New("vout: invalid argument")

	// Buffer and output crop differ on a plane that cannot resize.
	ErrCrop = errors.New("vout: crop needs resize support")

	// Field does not match the format, or is not one that can be queued.
	ErrField = errors.New("vout: field not supported")

	ErrNotSupported = errors.New("vout: not supported") // "can't do" items
	ErrNoFormat     = errors.New("vout: no format set")
	ErrBusy         = errors.New("vout: device busy")
	ErrClosed       = errors.New("vout: device closed")

	// Not a single buffer could be allocated.
	ErrNoMemory = bpa.ErrNoMemory

	// Non-blocking dequeue found nothing completed.
	ErrWouldBlock = stream.ErrWouldBlock
)
