package compositor

import "github.com/ethereal-os/devicecore/pkg/ioerr"

var errNoWindowIDs = ioerr.New(ioerr.KindNoSpace, "window id bitmap exhausted")

// errnoOf maps an ioerr.Kind to the POSIX errno value the Celestial wire
// protocol reports in an ERROR reply.
func errnoOf(err error) uint32 {
	switch ioerr.KindOf(err) {
	case ioerr.KindInvalid:
		return 22 // EINVAL
	case ioerr.KindNoSpace:
		return 28 // ENOSPC
	case ioerr.KindNotSupported:
		return 95 // ENOTSUP
	case ioerr.KindTimedOut:
		return 110 // ETIMEDOUT
	case ioerr.KindNoMemory:
		return 12 // ENOMEM
	default:
		return 5 // EIO
	}
}
