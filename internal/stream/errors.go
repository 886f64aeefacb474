package stream

import (
	"errors"
)

var (
	ErrAlreadyStreaming = errors.New("stream: already streaming")
	ErrAlreadyQueued    = errors.New("stream: buffer already queued")
	ErrStreaming        = errors.New("stream: operation not allowed while streaming")

	// Non-blocking dequeue found nothing to return.
	ErrWouldBlock = errors.New("stream: no buffer ready")
)
