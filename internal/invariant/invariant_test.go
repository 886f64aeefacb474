package invariant

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViolated(t *testing.T) {
	var out bytes.Buffer
	log.SetDestination(&out)

	if Debug() {
		assert.Panics(t, func() { Violated("buffer %d queued twice", 3) })
		assert.NotPanics(t, func() { Check(true, "fine") })
		return
	}

	Violated("buffer %d queued twice", 3)
	assert.Contains(t, out.String(), "invariant violated: buffer 3 queued twice")

	out.Reset()
	Check(true, "fine")
	assert.Empty(t, out.String())
	Check(false, "not fine")
	assert.Contains(t, out.String(), "not fine")
}
