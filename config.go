//////////////////////////////////////////////////////////////////////////////
//
// Options contains configuration data for a Device
//
//////////////////////////////////////////////////////////////////////////////

package vout

import (
	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/buffer"
	"github.com/lanikai/vout/internal/config"
	"github.com/lanikai/vout/internal/stream"
)

const defaultFormatCacheSize = 32

type Options struct {
	Allocator bpa.Config
	Pool      buffer.Config

	// Receives stream lifecycle events; may be nil.
	Observer stream.Observer

	// Number of negotiated formats remembered.
	FormatCacheSize int
}

// OptionsFromConfig takes the allocator and pool settings from a loaded
// configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Allocator: cfg.Allocator(),
		Pool:      cfg.Pool(),
	}
}
