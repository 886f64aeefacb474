//go:build !voutdebug
// +build !voutdebug

package invariant

const debug = false
