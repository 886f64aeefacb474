package monitor

import (
	"errors"
)

var (
	ErrClosed        = errors.New("monitor: closed")
	ErrNotSubscribed = errors.New("monitor: not subscribed")
)
