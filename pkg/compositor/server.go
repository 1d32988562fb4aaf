package compositor

import (
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ethereal-os/devicecore/pkg/compositor/proto"
	"github.com/ethereal-os/devicecore/pkg/input"
)

// SocketPath is the well-known path clients connect to.
const SocketPath = "/comm/wndsrv"

const readBufSize = 4096

// clientConn is one connected client: its raw fd and the id windows it
// creates are tagged with, so outbound events can be routed back to the
// right socket.
type clientConn struct {
	fd int
	id uuid.UUID
}

// Server owns the listening SOCK_SEQPACKET socket and the set of
// connected clients, driving Compositor through one cooperative frame
// loop per Tick call — the same single-goroutine, poll-non-blocking-fds
// shape pkg/virtualizers drivers use for their control
// loops.
type Server struct {
	Compositor *Compositor

	listenFD int
	clients map[int]*clientConn
	clientByID map[uuid.UUID]*clientConn

	log *logrus.Logger
}

// Listen creates and binds the SOCK_SEQPACKET socket at path. Using
// golang.org/x/sys/unix directly is necessary here: net.Listen has no
// SOCK_SEQPACKET unix-domain mode.
func Listen(path string, comp *Compositor, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logrus.New()
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, err
	}
	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Server{
		Compositor: comp,
		listenFD: fd,
		clients: make(map[int]*clientConn),
		clientByID: make(map[uuid.UUID]*clientConn),
		log: log,
	}, nil
}

// Close tears down the listening socket and every client connection.
func (s *Server) Close() error {
	for fd := range s.clients {
		_ = unix.Close(fd)
	}
	return unix.Close(s.listenFD)
}

// acceptNew accepts every pending connection without blocking (step 2 of
// the frame algorithm).
func (s *Server) acceptNew() {
	for {
		nfd, _, err := unix.Accept(s.listenFD)
		if err != nil {
			return // EAGAIN: nothing pending
		}
		_ = unix.SetNonblock(nfd, true)
		c := &clientConn{fd: nfd, id: uuid.New()}
		s.clients[nfd] = c
		s.clientByID[c.id] = c
	}
}

// pollRequests reads at most one pending packet per client and dispatches
// it, replying OK/ERROR on the same socket.
func (s *Server) pollRequests() {
	for fd, c := range s.clients {
		buf := make([]byte, readBufSize)
		n, err := unix.Read(fd, buf)
		if err != nil || n == 0 {
			if err == nil || err != unix.EAGAIN {
				s.disconnect(fd)
			}
			continue
		}
		s.dispatch(c, buf[:n])
	}
}

func (s *Server) disconnect(fd int) {
	c, ok := s.clients[fd]
	if !ok {
		return
	}
	delete(s.clients, fd)
	delete(s.clientByID, c.id)
	_ = unix.Close(fd)
}

// dispatch decodes one client request and performs the corresponding
// Compositor operation, writing back a reply packet. Malformed packets
// (wrong magic or short) receive EINVAL.
func (s *Server) dispatch(c *clientConn, raw []byte) {
	h, body, err := proto.Decode(raw)
	if err != nil {
		s.reply(c, proto.EncodeError(0, 22))
		return
	}

	switch h.Type {
	case proto.TypeCreateWindow:
		var req proto.CreateWindowRequest
		if proto.DecodePayload(body, &req) != nil {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		w, err := s.Compositor.CreateWindow(c.id, req.Flags, req.Width, req.Height)
		if err != nil {
			s.reply(c, proto.EncodeError(h.Type, errnoOf(err)))
			return
		}
		s.reply(c, proto.EncodeOK(h.Type, proto.CreateWindowReply{WindowID: w.ID}))

	case proto.TypeGetWindowInfo:
		var req proto.GetWindowInfoRequest
		if proto.DecodePayload(body, &req) != nil {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		w, ok := s.Compositor.Window(req.WindowID)
		if !ok {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		s.reply(c, proto.EncodeOK(h.Type, proto.GetWindowInfoReply{
					WindowID: w.ID, X: w.Bounds.X, Y: w.Bounds.Y,
					Width: uint32(w.Bounds.W), Height: uint32(w.Bounds.H), ShmKey: w.ShmKey,
				}))

	case proto.TypeSubscribe:
		var req proto.SubscribeRequest
		if proto.DecodePayload(body, &req) != nil || !s.Compositor.Subscribe(req.WindowID, req.Events) {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		s.reply(c, proto.EncodeOK(h.Type, nil))

	case proto.TypeDragStart:
		var req proto.DragStartRequest
		if proto.DecodePayload(body, &req) != nil || !s.Compositor.BeginDrag(req.WindowID) {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		s.reply(c, proto.EncodeOK(h.Type, nil))

	case proto.TypeDragStop:
		var req proto.DragStopRequest
		if proto.DecodePayload(body, &req) != nil {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		s.Compositor.EndDrag(req.WindowID)
		s.reply(c, proto.EncodeOK(h.Type, nil))

	case proto.TypeDestroy:
		var req proto.DestroyRequest
		if proto.DecodePayload(body, &req) != nil {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		w, ok := s.Compositor.DestroyWindow(req.WindowID)
		if !ok {
			s.reply(c, proto.EncodeError(h.Type, 22))
			return
		}
		s.reply(c, proto.EncodeOK(h.Type, nil))
		s.broadcast(proto.TypeClosed, proto.FocusEventPayload{WindowID: w.ID})

	default:
		s.reply(c, proto.EncodeError(h.Type, 22))
	}
}

func (s *Server) reply(c *clientConn, pkt []byte) {
	_, err := unix.Write(c.fd, pkt)
	if err != nil && err != unix.EAGAIN {
		s.disconnect(c.fd)
	}
}

// broadcast writes an event to every connected client (used for
// compositor-wide notifications like window close).
func (s *Server) broadcast(t proto.Type, payload interface{}) {
	pkt := proto.EncodeEvent(t, payload)
	for fd := range s.clients {
		_, _ = unix.Write(fd, pkt)
	}
}

// deliver encodes and writes each outbound event to the socket of the
// client owning its target window.
func (s *Server) deliver(events []OutboundEvent) {
	for _, ev := range events {
		c, ok := s.clientByID[ev.ClientID]
		if !ok {
			continue
		}
		s.reply(c, proto.EncodeEvent(ev.Type, ev.Payload))
	}
}

// Tick runs exactly one frame of the algorithm in: reset
// clip state, accept new connections, process at most one mouse sample
// and any pending keyboard bytes, then present. mouseEvents/keyEvents are
// the pkg/input aggregator's channels; io.EOF-free non-blocking selects
// on them implement steps 3-4.
func (s *Server) Tick(mouseEvents <-chan input.MouseEvent, keyEvents <-chan input.KeyEvent) []byte {
	s.Compositor.ResetFrame()
	s.acceptNew()
	s.pollRequests()

	select {
	case m := <-mouseEvents:
		events := s.Compositor.HandleMouseUpdate(m.DX, m.DY, m.Buttons, m.Scroll)
		s.deliver(events)
	default:
	}

	for {
		select {
		case k := <-keyEvents:
			events := s.Compositor.HandleKeyByte(k.Scancode, k.Key, k.Pressed)
			s.deliver(events)
			continue
		default:
		}
		break
	}

	return s.Compositor.Present()
}

var _ io.Closer = (*Server)(nil)
