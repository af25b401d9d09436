package iproto

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Codec Errors
// --------------------------------------------------------------------------

// EncodingError is returned by Encode when a request body contains a value
// that cannot be represented in MessagePack. It is fatal for the single
// request only - the connection stays usable.
type EncodingError struct {
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("iproto: failed to encode request: %v", e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// DecodingError is returned by Decode for malformed frames (bad length
// prefix, bad header map, truncated or trailing body bytes). A decoding
// error breaks the framing and is therefore fatal to the connection that
// produced the bytes.
type DecodingError struct {
	Cause error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("iproto: failed to decode response: %v", e.Cause)
}

func (e *DecodingError) Unwrap() error { return e.Cause }

// decodingErrorf creates a DecodingError from a format string.
func decodingErrorf(format string, args ...interface{}) *DecodingError {
	return &DecodingError{Cause: fmt.Errorf(format, args...)}
}

// --------------------------------------------------------------------------
// Server Errors
// --------------------------------------------------------------------------

// ServerError is the error reported by the remote peer in a response frame.
// The request itself was transported and processed - the server rejected it.
type ServerError struct {
	Code    uint32
	Message string
}

func (e *ServerError) Error() string {
	if name, ok := errCodeNames[e.Code]; ok {
		return fmt.Sprintf("iproto: server error %s (0x%x): %s", name, e.Code, e.Message)
	}
	return fmt.Sprintf("iproto: server error 0x%x: %s", e.Code, e.Message)
}

// IsAuthError reports whether the server error indicates rejected
// credentials. Such errors are terminal for a connection attempt and must
// never be retried automatically.
func (e *ServerError) IsAuthError() bool {
	return e.Code == ErrCodePasswordMismatch ||
		e.Code == ErrCodeAccessDenied ||
		e.Code == ErrCodeNoSuchUser
}
