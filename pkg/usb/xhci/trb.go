// Package xhci implements the eXtensible Host Controller Interface
// bring-up, command/event/transfer TRB rings, six-step device bring-up,
// control transfers, and endpoint configuration of Ring
// layout (fixed array, cycle bit, tail LINK TRB with toggle-cycle) follows
// the same "fixed-size ring of POD structs plus owned head/tail/phase
// indices" design mandates for pkg/block/nvme's queue pairs —
// this package is the second, independent grounding of that same idiom.
package xhci

import "encoding/binary"

// TRB is one 16-byte Transfer Request Block: a 64-bit parameter field, a
// 32-bit status field, and a 32-bit control field whose low bit is the
// cycle bit and bits [15:10] are the TRB type.
type TRB struct {
	Parameter uint64
	Status uint32
	Control uint32
}

// TRB types this engine classifies or emits.
const (
	TRBNormal = 1
	TRBSetupStage = 2
	TRBDataStage = 3
	TRBStatusStage = 4
	TRBLink = 6
	TRBEnableSlot = 9
	TRBAddressDevice = 11
	TRBConfigureEndpoint = 12
	TRBEvaluateContext = 13
	TRBTransferEvent = 32
	TRBCommandCompletionEvent = 33
	TRBPortStatusChangeEvent = 34
)

// Completion codes.
const (
	CompletionSuccess = 1
)

func (t *TRB) cycle() bool { return t.Control&1 != 0 }
func (t *TRB) setCycle(c bool) {
	if c {
		t.Control |= 1
	} else {
		t.Control &^= 1
	}
}

func (t *TRB) trbType() int { return int((t.Control >> 10) & 0x3F) }
func (t *TRB) setType(ty int) {
	t.Control = (t.Control &^ (0x3F << 10)) | uint32(ty&0x3F)<<10
}

// Bytes serializes a TRB to its 16-byte wire form for diagnostics/tests.
func (t TRB) Bytes() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:], t.Parameter)
	binary.LittleEndian.PutUint32(b[8:], t.Status)
	binary.LittleEndian.PutUint32(b[12:], t.Control)
	return b
}

func newEnableSlotTRB() TRB {
	t := TRB{}
	t.setType(TRBEnableSlot)
	return t
}

func newAddressDeviceTRB(inputCtx uint64, slotID uint8, bsr bool) TRB {
	t := TRB{Parameter: inputCtx}
	t.setType(TRBAddressDevice)
	t.Control |= uint32(slotID) << 24
	if bsr {
		t.Status |= 1 << 9
	}
	return t
}

func newEvaluateContextTRB(inputCtx uint64, slotID uint8) TRB {
	t := TRB{Parameter: inputCtx}
	t.setType(TRBEvaluateContext)
	t.Control |= uint32(slotID) << 24
	return t
}

func newConfigureEndpointTRB(inputCtx uint64, slotID uint8) TRB {
	t := TRB{Parameter: inputCtx}
	t.setType(TRBConfigureEndpoint)
	t.Control |= uint32(slotID) << 24
	return t
}

func newSetupStageTRB(setupData uint64, trt uint32) TRB {
	t := TRB{Parameter: setupData, Status: 8}
	t.setType(TRBSetupStage)
	t.Control |= 1 << 6 // IDT
	t.Control |= trt << 16
	return t
}

func newDataStageTRB(buf uint64, length uint32, in bool) TRB {
	t := TRB{Parameter: buf, Status: length}
	t.setType(TRBDataStage)
	if in {
		t.Control |= 1 << 16
	}
	return t
}

func newStatusStageTRB(in bool) TRB {
	t := TRB{}
	t.setType(TRBStatusStage)
	t.Control |= 1 << 5 // IOC
	if in {
		t.Control |= 1 << 16
	}
	return t
}
