package iproto

import (
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// Response Structure
// --------------------------------------------------------------------------

// Response is one decoded response frame. The body fields are kept in raw
// MessagePack form so callers can decode the returned data into their own
// types without an intermediate conversion.
type Response struct {
	// Sync is the correlation id tying the response to its request
	Sync uint64

	// Code is the raw response code from the header (0 means success,
	// otherwise the error bit plus the server error code)
	Code uint64

	// SchemaVersion is the server schema version at the time the request
	// was processed
	SchemaVersion uint64

	// body holds the raw body fields keyed by the protocol body keys
	body map[int64]msgpack.RawMessage
}

// IsOK reports whether the response indicates success.
func (r *Response) IsOK() bool {
	return r.Code == ResponseCodeOK
}

// Err returns the server error carried by the response, or nil for a
// successful response.
func (r *Response) Err() error {
	if r.IsOK() {
		return nil
	}

	serr := &ServerError{Code: uint32(r.Code &^ responseCodeErrBit)}
	if raw, ok := r.body[KeyError]; ok {
		// A malformed error message is not worth failing the response
		// over - the code alone identifies the error
		_ = msgpack.Unmarshal(raw, &serr.Message)
	}
	return serr
}

// Data decodes the returned data field into a generic slice. Responses
// without a data field yield a nil slice.
func (r *Response) Data() ([]interface{}, error) {
	raw, ok := r.body[KeyData]
	if !ok {
		return nil, nil
	}

	var data []interface{}
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return nil, &DecodingError{Cause: err}
	}
	return data, nil
}

// DataInto decodes the returned data field into v, which is typically a
// pointer to a slice of tuples or structs.
func (r *Response) DataInto(v interface{}) error {
	raw, ok := r.body[KeyData]
	if !ok {
		return decodingErrorf("response carries no data field")
	}

	if err := msgpack.Unmarshal(raw, v); err != nil {
		return &DecodingError{Cause: err}
	}
	return nil
}

// Field returns the raw body field stored under the given protocol key.
// It is mostly useful for tooling that inspects frames beyond the data and
// error fields, e.g. test servers decoding request bodies.
func (r *Response) Field(key int64) (msgpack.RawMessage, bool) {
	raw, ok := r.body[key]
	return raw, ok
}

// HasData reports whether the response carries a data field.
func (r *Response) HasData() bool {
	_, ok := r.body[KeyData]
	return ok
}
