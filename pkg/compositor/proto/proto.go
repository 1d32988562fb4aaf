// Package proto implements the wire encoding of the Celestial window
// compositor protocol : a UNIX-domain SOCK_SEQPACKET
// connection exchanging length-prefixed, magic-tagged records. The layout
// follows the same "packed header struct read via encoding/binary" idiom
// pkg/ext2 and pkg/fat use for on-disk structures, applied here to a wire
// format instead.
package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic distinguishes a request, an event, an error reply, or an OK reply.
type Magic uint32

const (
	MagicReq Magic = 0x52455121 // "REQ!"
	MagicEvent Magic = 0x45564E54 // "EVNT"
	MagicError Magic = 0x4552524F // "ERRO"
	MagicOK Magic = 0x4F4B2121 // "OK!!"
)

// Type enumerates both request and event payload kinds. Requests and
// events are disjoint ranges so a single Type field unambiguously selects
// a payload shape regardless of which magic wraps it.
type Type uint16

const (
	TypeCreateWindow Type = iota + 1
	TypeGetWindowInfo
	TypeSubscribe
	TypeDragStart
	TypeDragStop
	TypeDestroy
)

const (
	TypeMouseEnter Type = iota + 100
	TypeMouseMotion
	TypeMouseButtonDown
	TypeMouseButtonUp
	TypeMouseDrag
	TypeMouseExit
	TypeMouseScroll
	TypeFocused
	TypeUnfocused
	TypeKeyEvent
	TypeClosed
)

// Event subscription bits, ORed into a SubscribeRequest.Events mask.
// CreateWindowRequest.Flags does not carry them; its bits select the layer.
const (
	EventMouseEnter uint32 = 1 << iota
	EventMouseMotion
	EventMouseButtonDown
	EventMouseButtonUp
	EventMouseDrag
	EventMouseExit
	EventMouseScroll
	EventFocused
	EventUnfocused
	EventKeyEvent
)

// HeaderSize is the on-wire size of Header: u32 magic, u16 type, u32 size.
const HeaderSize = 4 + 2 + 4

// Header is the fixed prefix of every Celestial packet. Size is the
// length of the payload that follows, not including the header itself.
type Header struct {
	Magic Magic
	Type Type
	Size uint32
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(h.Magic))
	binary.LittleEndian.PutUint16(b[4:], uint16(h.Type))
	binary.LittleEndian.PutUint32(b[6:], h.Size)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("proto: short packet: %d bytes", len(b))
	}
	return Header{
		Magic: Magic(binary.LittleEndian.Uint32(b[0:])),
		Type: Type(binary.LittleEndian.Uint16(b[4:])),
		Size: binary.LittleEndian.Uint32(b[6:]),
	}, nil
}

// CreateWindowRequest is the TypeCreateWindow payload.
type CreateWindowRequest struct {
	Flags uint32
	Width uint32
	Height uint32
}

// CreateWindowReply carries the allocated window id.
type CreateWindowReply struct {
	WindowID uint32
}

// GetWindowInfoRequest is the TypeGetWindowInfo payload.
type GetWindowInfoRequest struct {
	WindowID uint32
}

// GetWindowInfoReply reports a window's current geometry and the shared
// memory key backing its pixel buffer.
type GetWindowInfoReply struct {
	WindowID uint32
	X, Y int32
	Width uint32
	Height uint32
	ShmKey uint32
}

// SubscribeRequest installs a window's event subscription bitmask.
type SubscribeRequest struct {
	WindowID uint32
	Events uint32
}

// DragStartRequest/DragStopRequest name the window a client wants the
// compositor to begin/stop treating as under manual drag control.
type DragStartRequest struct{ WindowID uint32 }
type DragStopRequest struct{ WindowID uint32 }

// DestroyRequest tears a window down.
type DestroyRequest struct{ WindowID uint32 }

// MouseEventPayload backs every MOUSE_* event type; unused fields per
// event kind (e.g. Button for MOUSE_MOTION) are zero.
type MouseEventPayload struct {
	WindowID uint32
	X, Y int32
	Button uint8
	Scroll int8
}

// KeyEventPayload backs TypeKeyEvent.
type KeyEventPayload struct {
	WindowID uint32
	Scancode uint8
	Key uint32
	Pressed bool
}

// FocusEventPayload backs TypeFocused/TypeUnfocused.
type FocusEventPayload struct {
	WindowID uint32
}

// ErrorReply carries an errno-style code, matching pkg/ioerr's Kind space.
type ErrorReply struct {
	Errno uint32
}

// EncodeRequest serializes a request's type and payload into a full
// packet, ready to write to a SOCK_SEQPACKET connection.
func EncodeRequest(t Type, payload interface{}) []byte {
	return encode(MagicReq, t, payload)
}

// EncodeEvent serializes an event's type and payload.
func EncodeEvent(t Type, payload interface{}) []byte {
	return encode(MagicEvent, t, payload)
}

// EncodeOK builds a bare OK reply carrying payload (nil for a contentless
// acknowledgement, a reply struct such as CreateWindowReply otherwise).
func EncodeOK(t Type, payload interface{}) []byte {
	return encode(MagicOK, t, payload)
}

// EncodeError builds an ERROR reply carrying an errno code.
func EncodeError(t Type, errno uint32) []byte {
	return encode(MagicError, t, ErrorReply{Errno: errno})
}

func encode(magic Magic, t Type, payload interface{}) []byte {
	var body bytes.Buffer
	if payload != nil {
		_ = binary.Write(&body, binary.LittleEndian, payload)
	}
	h := Header{Magic: magic, Type: t, Size: uint32(body.Len())}
	return append(h.encode(), body.Bytes()...)
}

// Decode splits a raw packet into its header and payload bytes, rejecting
// anything whose magic is unrecognized or whose declared size doesn't
// match what actually arrived. Per, malformed packets (wrong
// magic or short) are the caller's cue to reply EINVAL.
func Decode(raw []byte) (Header, []byte, error) {
	h, err := decodeHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}
	switch h.Magic {
	case MagicReq, MagicEvent, MagicError, MagicOK:
	default:
		return Header{}, nil, fmt.Errorf("proto: bad magic %#x", h.Magic)
	}
	body := raw[HeaderSize:]
	if uint32(len(body)) != h.Size {
		return Header{}, nil, fmt.Errorf("proto: size mismatch: header says %d, got %d", h.Size, len(body))
	}
	return h, body, nil
}

// DecodePayload unmarshals body into dst (a pointer to a fixed-size
// struct such as CreateWindowRequest) per the same little-endian layout
// Encode* uses.
func DecodePayload(body []byte, dst interface{}) error {
	return binary.Read(bytes.NewReader(body), binary.LittleEndian, dst)
}
