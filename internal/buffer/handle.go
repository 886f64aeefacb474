package buffer

import (
	"fmt"

	"github.com/lanikai/vout/internal/v4l2"
)

// Handle names a descriptor in a Pool. Gen changes whenever the slot is
// reallocated, so a handle held across a pool teardown is detected as stale
// instead of silently aliasing a new buffer.
type Handle struct {
	Memory v4l2.Memory
	Index  int
	Gen    uint32
}

func (h Handle) String() string {
	kind := "mmap"
	if h.Memory == v4l2.V4L2_MEMORY_USERPTR {
		kind = "user"
	}
	return fmt.Sprintf("%s#%d.%d", kind, h.Index, h.Gen)
}
