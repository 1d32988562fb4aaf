package nvme

import "sync"

// This reimplementation runs as a user-space library rather than inside a
// kernel with access to real physical memory, so PRP1 cannot literally be a
// physical address a Backend dereferences. dataHandle/prpLookup model
// the PRP mechanism with a process-local handle table instead: SetPRP1 still
// carries a 64-bit "address" exactly where the wire format puts it, and a
// Backend resolves that handle back to the caller's buffer. PRP2/PRP lists
// remain out of scope: only PRP1 is supported.
var (
	prpMu sync.Mutex
	prpTable = make(map[uint64][]byte)
	prpNext uint64 = 0x1000
)

// dataHandle registers buf and returns a handle suitable for SetPRP1.
func dataHandle(buf []byte) uint64 {
	prpMu.Lock()
	defer prpMu.Unlock()
	h := prpNext
	prpNext += 0x1000
	prpTable[h] = buf
	return h
}

// prpLookup resolves a handle previously returned by dataHandle.
func prpLookup(handle uint64) []byte {
	prpMu.Lock()
	defer prpMu.Unlock()
	return prpTable[handle]
}
