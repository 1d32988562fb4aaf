package xhci

import "sync"

// This reimplementation runs in user space rather than inside a kernel with
// real physical memory, so the DCBAA, input/output device contexts, and
// ring base addresses this package's TRBs carry cannot literally be
// physical addresses a Backend dereferences. This file's handle/lookup
// table models that addressing instead, the same compromise
// pkg/block/nvme/prp.go makes for PRP1 — see DESIGN.md.
var (
	handleMu sync.Mutex
	handleTbl = make(map[uint64]interface{})
	handleNext uint64 = 0x2000
)

func handle(v interface{}) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	h := handleNext
	handleNext += 0x1000
	handleTbl[h] = v
	return h
}

func lookup(h uint64) interface{} {
	handleMu.Lock()
	defer handleMu.Unlock()
	return handleTbl[h]
}
