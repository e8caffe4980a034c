package spwf04sx

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Handshake bytes exchanged at the start of every polling iteration that has work.
const (
	// SyncIdle is sent by the host to poll without writing.
	SyncIdle byte = 0x00
	// SyncWrite is sent by the host when it wants to write a request.
	SyncWrite byte = 0x02
	// SyncHasData is echoed by the module when it has a frame for the host.
	SyncHasData byte = 0x02
)

// ResponseHeaderSize is the size of the header in front of every frame from the module.
const ResponseHeaderSize = 4

// FrameType is the high nibble of a response status byte.
type FrameType byte

// Frame types. Any type other than FrameIndication and FrameError carries a chunk of the active
// operation's response; FrameResponse is what the driver's tests and tools emit.
const (
	FrameIndication FrameType = 0x01
	FrameError      FrameType = 0x02
	FrameResponse   FrameType = 0x03
)

// Unsolicited reports whether frames of this type are indications rather than response chunks.
func (t FrameType) Unsolicited() bool {
	return t == FrameIndication || t == FrameError
}

func (t FrameType) String() string {
	switch t {
	case FrameIndication:
		return "indication"
	case FrameError:
		return "error"
	default:
		return "response"
	}
}

// ResponseHeader is the decoded form of [status][code][lenLo][lenHi].
type ResponseHeader struct {
	Type   FrameType
	State  WiFiState
	Code   byte
	Length int
}

// ParseResponseHeader decodes a 4 byte response header. The payload length is little-endian.
func ParseResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) != ResponseHeaderSize {
		return ResponseHeader{}, errors.Errorf("response header must be %d bytes, got %d", ResponseHeaderSize, len(b))
	}
	return ResponseHeader{
		Type:   FrameType(b[0] >> 4),
		State:  WiFiState(b[0] & 0x0F),
		Code:   b[1],
		Length: int(binary.LittleEndian.Uint16(b[2:4])),
	}, nil
}

// Bytes encodes the header.
func (h ResponseHeader) Bytes() []byte {
	b := make([]byte, ResponseHeaderSize)
	b[0] = byte(h.Type)<<4 | byte(h.State)&0x0F
	b[1] = h.Code
	binary.LittleEndian.PutUint16(b[2:4], uint16(h.Length))
	return b
}

// Request is the decoded form of a request header.
type Request struct {
	Command       CommandID
	Params        []string
	HeaderLength  int
	PayloadLength int
}

// DecodeRequestHeader decodes a request header produced by SetCommand. The payload length is
// derived from the length field, so b must hold exactly the header.
func DecodeRequestHeader(b []byte) (Request, error) {
	if len(b) < initialHeaderSize {
		return Request{}, errors.Errorf("request header too short: %d bytes", len(b))
	}
	frameLen := int(binary.BigEndian.Uint16(b[0:2]))
	req := Request{Command: CommandID(b[2])}
	count := int(b[3])
	idx := initialHeaderSize
	for i := 0; i < count; i++ {
		if idx >= len(b) {
			return Request{}, errors.Errorf("parameter %d length missing", i)
		}
		pLen := int(b[idx])
		idx++
		if idx+pLen > len(b) {
			return Request{}, errors.Errorf("parameter %d truncated", i)
		}
		req.Params = append(req.Params, string(b[idx:idx+pLen]))
		idx += pLen
	}
	if idx != len(b) {
		return Request{}, errors.Errorf("%d trailing bytes after parameters", len(b)-idx)
	}
	req.HeaderLength = idx
	req.PayloadLength = frameLen - (idx - 2)
	if req.PayloadLength < 0 {
		return Request{}, errors.Errorf("length field %d shorter than header", frameLen)
	}
	return req, nil
}
