package mount

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/unionfs/source"
)

// FileContextId identifies one open file handle; the spec's "128-bit
// stable ID" convention (already used for plugin identity) is reused here
// for the same reason: google/uuid is the idiomatic Go representation.
type FileContextId = uuid.UUID

// FileContext is per-open-file state (spec.md §3): the owning source
// rank, the resolved real path, the source-private Handle, and a
// per-context mutex serializing the seek+read/write sequences the spec
// requires. Never shared across opens.
type FileContext struct {
	mu sync.Mutex

	id      FileContextId
	virtual string
	rank    int
	real    string
	handle  source.Handle
	access  source.AccessMode
	share   source.ShareMode

	// pendingCopyUp is the deferred-copy intent marker (spec.md §4.4):
	// set when a write-mode open resolved to a source below rank 0 under
	// deferCopyEnabled. The next Read or Write on this context triggers
	// the actual copy-up and re-routes rank/handle to source 0.
	pendingCopyUp bool
}
