package iproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxFrameSize is the ceiling for a single frame payload. Frames
	// declaring a larger length are rejected on both encode and decode
	// since such a length almost certainly means broken framing.
	MaxFrameSize = 64 << 20 // 64 MB

	// lengthPrefixSize is the fixed size of the encoded length prefix
	// written by Encode (MessagePack uint32).
	lengthPrefixSize = 5
)

// --------------------------------------------------------------------------
// Frame Encoding
// --------------------------------------------------------------------------

// Encode builds a complete wire frame for the given request and sync id:
// a MessagePack uint32 length prefix followed by the header map and the
// request body. The result is deterministic for a given request and sync.
func Encode(req IRequest, sync uint64) ([]byte, error) {
	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)

	// Header map: request type and sync id
	if err := enc.EncodeMapLen(2); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(KeyRequestType); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(uint64(req.Type())); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(KeySync); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(sync); err != nil {
		return nil, &EncodingError{Cause: err}
	}

	// Body map
	if err := req.EncodeBody(enc); err != nil {
		return nil, &EncodingError{Cause: err}
	}

	if payload.Len() > MaxFrameSize {
		return nil, &EncodingError{
			Cause: fmt.Errorf("frame payload of %d bytes exceeds the %d byte limit", payload.Len(), MaxFrameSize),
		}
	}

	// Length prefix (always encoded as uint32 so the frame size is known
	// before the payload is serialized)
	frame := make([]byte, lengthPrefixSize, lengthPrefixSize+payload.Len())
	frame[0] = 0xce
	binary.BigEndian.PutUint32(frame[1:], uint32(payload.Len()))

	return append(frame, payload.Bytes()...), nil
}

// EncodeResponse builds a complete response frame. It is the counterpart of
// Decode and exists for peers acting as the server side of the protocol,
// most prominently the in-process test server.
//
// A non-empty errMsg produces an error body regardless of data; otherwise
// data (if non-nil) is written under the data key.
func EncodeResponse(sync, code, schemaVersion uint64, data interface{}, errMsg string) ([]byte, error) {
	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)

	if err := enc.EncodeMapLen(3); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(KeyRequestType); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(code); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(KeySync); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(sync); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(KeySchemaVersion); err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := enc.EncodeUint(schemaVersion); err != nil {
		return nil, &EncodingError{Cause: err}
	}

	switch {
	case errMsg != "":
		if err := enc.EncodeMapLen(1); err != nil {
			return nil, &EncodingError{Cause: err}
		}
		if err := enc.EncodeUint(KeyError); err != nil {
			return nil, &EncodingError{Cause: err}
		}
		if err := enc.EncodeString(errMsg); err != nil {
			return nil, &EncodingError{Cause: err}
		}
	case data != nil:
		if err := enc.EncodeMapLen(1); err != nil {
			return nil, &EncodingError{Cause: err}
		}
		if err := enc.EncodeUint(KeyData); err != nil {
			return nil, &EncodingError{Cause: err}
		}
		if err := enc.Encode(data); err != nil {
			return nil, &EncodingError{Cause: err}
		}
	default:
		if err := enc.EncodeMapLen(0); err != nil {
			return nil, &EncodingError{Cause: err}
		}
	}

	frame := make([]byte, lengthPrefixSize, lengthPrefixSize+payload.Len())
	frame[0] = 0xce
	binary.BigEndian.PutUint32(frame[1:], uint32(payload.Len()))

	return append(frame, payload.Bytes()...), nil
}

// ErrorCode builds the header response code for the given server error code.
func ErrorCode(errCode uint32) uint64 {
	return responseCodeErrBit | uint64(errCode)
}

// --------------------------------------------------------------------------
// Frame Decoding
// --------------------------------------------------------------------------

// Decode attempts to decode exactly one response frame from the beginning
// of buf. It returns the decoded response and the number of bytes consumed.
// If buf does not yet contain a complete frame, Decode returns (nil, 0, nil)
// and the caller must supply more bytes. A non-nil error means the byte
// stream is corrupt; the connection that produced it must be closed since
// the framing cannot be trusted anymore.
func Decode(buf []byte) (*Response, int, error) {
	length, prefixLen, err := ParseLength(buf)
	if err != nil {
		return nil, 0, err
	}
	if prefixLen == 0 {
		return nil, 0, nil // incomplete prefix
	}

	if length > MaxFrameSize {
		return nil, 0, decodingErrorf("frame declares %d payload bytes, limit is %d", length, MaxFrameSize)
	}

	total := prefixLen + length
	if len(buf) < total {
		return nil, 0, nil // incomplete payload
	}

	resp, err := decodePayload(buf[prefixLen:total])
	if err != nil {
		return nil, 0, err
	}
	return resp, total, nil
}

// PrefixSize returns the total size in bytes of a length prefix starting
// with the given marker byte. Transports use it to read exactly one frame
// from a stream without over-reading.
func PrefixSize(marker byte) (int, error) {
	switch {
	case marker <= 0x7f:
		return 1, nil
	case marker == 0xcc:
		return 2, nil
	case marker == 0xcd:
		return 3, nil
	case marker == 0xce:
		return 5, nil
	case marker == 0xcf:
		return 9, nil
	default:
		return 0, decodingErrorf("invalid length prefix marker 0x%02x", marker)
	}
}

// ParseLength reads the MessagePack unsigned integer at the start of
// buf. It returns the declared payload length and the prefix size in bytes,
// or (0, 0, nil) when buf is too short to hold the full prefix.
func ParseLength(buf []byte) (length int, prefixLen int, err error) {
	if len(buf) == 0 {
		return 0, 0, nil
	}

	c := buf[0]
	switch {
	case c <= 0x7f: // positive fixint
		return int(c), 1, nil
	case c == 0xcc: // uint8
		if len(buf) < 2 {
			return 0, 0, nil
		}
		return int(buf[1]), 2, nil
	case c == 0xcd: // uint16
		if len(buf) < 3 {
			return 0, 0, nil
		}
		return int(binary.BigEndian.Uint16(buf[1:3])), 3, nil
	case c == 0xce: // uint32
		if len(buf) < 5 {
			return 0, 0, nil
		}
		return int(binary.BigEndian.Uint32(buf[1:5])), 5, nil
	case c == 0xcf: // uint64
		if len(buf) < 9 {
			return 0, 0, nil
		}
		v := binary.BigEndian.Uint64(buf[1:9])
		if v > MaxFrameSize {
			return 0, 0, decodingErrorf("frame declares %d payload bytes, limit is %d", v, MaxFrameSize)
		}
		return int(v), 9, nil
	default:
		return 0, 0, decodingErrorf("invalid length prefix marker 0x%02x", c)
	}
}

// decodePayload decodes the header and body maps of one frame payload.
func decodePayload(payload []byte) (*Response, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))

	var header map[int64]uint64
	if err := dec.Decode(&header); err != nil {
		return nil, decodingErrorf("bad frame header: %v", err)
	}

	code, ok := header[KeyRequestType]
	if !ok {
		return nil, decodingErrorf("frame header is missing the response code")
	}
	sync, ok := header[KeySync]
	if !ok {
		return nil, decodingErrorf("frame header is missing the sync id")
	}

	resp := &Response{
		Sync:          sync,
		Code:          code,
		SchemaVersion: header[KeySchemaVersion],
	}

	// The body map is optional (e.g. ping responses may omit it)
	var body map[int64]msgpack.RawMessage
	if err := dec.Decode(&body); err != nil {
		if err == io.EOF {
			return resp, nil
		}
		return nil, decodingErrorf("bad frame body: %v", err)
	}
	resp.body = body

	// Anything after the body map means the declared frame length does not
	// match the actual payload
	if err := dec.Skip(); err != io.EOF {
		return nil, decodingErrorf("trailing bytes after frame body")
	}

	return resp, nil
}
