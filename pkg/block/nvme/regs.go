// Package nvme implements the NVMe queue-pair engine of: admin
// queue bring-up, controller enable/reset, Identify, I/O queue creation,
// namespace enumeration, and the submit-and-wait algorithm with its
// interrupt-driven completion ring drain. Register and Identify-structure
// layouts are grounded on other_examples/a4ce66e1_dswarbrick-smart__nvme.go
// (NVMe Identify Controller field layout) applied to this module's
// fixed-array-ring design.
package nvme

// Controller register offsets (NVMe Base Specification, BAR0).
const (
	RegCAP = 0x00 // Controller Capabilities (64-bit)
	RegVS = 0x08 // Version
	RegINTMS = 0x0C
	RegINTMC = 0x10
	RegCC = 0x14 // Controller Configuration
	RegCSTS = 0x1C // Controller Status
	RegAQA = 0x24 // Admin Queue Attributes
	RegASQ = 0x28 // Admin Submission Queue Base Address (64-bit)
	RegACQ = 0x30 // Admin Completion Queue Base Address (64-bit)

	// Doorbell stride is fixed at 4 bytes (CAP.DSTRD=0) for this
	// reimplementation, matching this package's scope (no doorbell-stride
	// negotiation called out). SQyTDBL at 0x1000 + (2y)*stride, CQyHDBL at
	// 0x1000 + (2y+1)*stride.
	doorbellBase = 0x1000
	doorbellStride = 4
)

func sqDoorbellOffset(qid int) uint32 {
	return doorbellBase + uint32(2*qid)*doorbellStride
}

func cqDoorbellOffset(qid int) uint32 {
	return doorbellBase + uint32(2*qid+1)*doorbellStride
}

// CC (Controller Configuration) bit layout.
const (
	ccEN = 1 << 0
	ccCSSShift = 4
	ccMPSShift = 7
	ccAMSRoundRobin = 0 << 11
	ccShnShift = 14
	ccIOSQESShift = 16
	ccIOCQESShift = 20
)

// CSTS (Controller Status) bits.
const (
	cstsRDY = 1 << 0
	cstsCFS = 1 << 1
)

// Admin command opcodes.
const (
	opDeleteSQ = 0x00
	opCreateSQ = 0x01
	opDeleteCQ = 0x04
	opCreateCQ = 0x05
	opIdentify = 0x06
)

// I/O command opcodes.
const (
	opWrite = 0x01
	opRead = 0x02
)

// Identify CNS values.
const (
	cnsNamespace = 0x00
	cnsController = 0x01
	cnsActiveNSList = 0x02
)

// SQEntrySize and CQEntrySize are fixed by the NVMe spec.
const (
	SQEntrySize = 64
	CQEntrySize = 16
)

// AdminQueueDepth is the fixed depth used for the admin queue pair.
const AdminQueueDepth = 32
