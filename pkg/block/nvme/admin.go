package nvme

import (
	"context"
	"encoding/binary"
	"time"
)

const defaultTimeout = 5 * time.Second

// IdentifyController issues IDENTIFY with CNS=Identify Controller and
// parses the reply.
func (c *Controller) IdentifyController(ctx context.Context) (ControllerIdentity, error) {
	var entry SQEntry
	entry.SetOpcode(opIdentify)
	entry.SetDW10(cnsController)

	data := make([]byte, 4096)
	entry.SetPRP1(dataHandle(data))

	_, err := c.submitAndWait(ctx, c.admin, entry)
	if err != nil {
		return ControllerIdentity{}, err
	}

	c.Identity = parseControllerIdentity(data)
	return c.Identity, nil
}

// CreateIOQueuePair creates one I/O completion queue then one I/O
// submission queue bound to it, via CREATE_CQ + CREATE_SQ against the
// admin queue.
func (c *Controller) CreateIOQueuePair(ctx context.Context, qid int, depth int) error {
	var cqEntry SQEntry
	cqEntry.SetOpcode(opCreateCQ)
	cqEntry.SetPRP1(dataHandle(make([]byte, depth*CQEntrySize)))
	cqEntry.SetDW10(uint32(qid) | uint32(depth-1)<<16)
	cqEntry.SetDW11(0x3) // physically contiguous, interrupts enabled
	if _, err := c.submitAndWait(ctx, c.admin, cqEntry); err != nil {
		return err
	}

	var sqEntry SQEntry
	sqEntry.SetOpcode(opCreateSQ)
	sqEntry.SetPRP1(dataHandle(make([]byte, depth*SQEntrySize)))
	sqEntry.SetDW10(uint32(qid) | uint32(depth-1)<<16)
	sqEntry.SetDW11(uint32(qid)<<16 | 1)
	if _, err := c.submitAndWait(ctx, c.admin, sqEntry); err != nil {
		return err
	}

	c.mu.Lock()
	c.ioQueues[qid] = newPendingQueue(qid, depth)
	c.mu.Unlock()
	return nil
}

// EnumerateNamespaces issues IDENTIFY CNS=Active Namespace List, then
// IDENTIFY CNS=Namespace per nsid, deriving sector_size/sectors per
// step 6.
func (c *Controller) EnumerateNamespaces(ctx context.Context) ([]*Namespace, error) {
	var listEntry SQEntry
	listEntry.SetOpcode(opIdentify)
	listEntry.SetDW10(cnsActiveNSList)
	listData := make([]byte, 4096)
	listEntry.SetPRP1(dataHandle(listData))
	if _, err := c.submitAndWait(ctx, c.admin, listEntry); err != nil {
		return nil, err
	}

	var namespaces []*Namespace
	for i := 0; i < 1024; i++ {
		nsid := binary.LittleEndian.Uint32(listData[i*4:])
		if nsid == 0 {
			break
		}

		var nsEntry SQEntry
		nsEntry.SetOpcode(opIdentify)
		nsEntry.SetNSID(nsid)
		nsEntry.SetDW10(cnsNamespace)
		nsData := make([]byte, 4096)
		nsEntry.SetPRP1(dataHandle(nsData))
		if _, err := c.submitAndWait(ctx, c.admin, nsEntry); err != nil {
			return nil, err
		}

		sectorSize, sectors := parseNamespaceIdentity(nsData)
		ns := &Namespace{
			ctrl: c,
			nsid: nsid,
			sectorSize: sectorSize,
			sectors: sectors,
			ioQID: 1,
		}
		c.mu.Lock()
		c.namespaces[nsid] = ns
		c.mu.Unlock()
		namespaces = append(namespaces, ns)
	}
	return namespaces, nil
}

// DefaultDeadline returns a context bound by defaultTimeout, the
// "time-bounded wait" requires of every admin/I/O submission.
func DefaultDeadline() (context.Context, context.CancelFunc) {
	return withDeadline(defaultTimeout)
}
