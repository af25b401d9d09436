package iproto

import (
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// Request Interface
// --------------------------------------------------------------------------

// IRequest is implemented by every request that can be sent over a
// connection. Implementations encode only the frame body - the header
// (request type, sync id) is written by Encode.
type IRequest interface {
	// Type returns the request type written into the frame header
	Type() RequestType

	// EncodeBody writes the MessagePack body map of the request
	EncodeBody(enc *msgpack.Encoder) error
}

// encodeArgs writes v as the MessagePack value of a tuple/args field.
// A nil value encodes as an empty array since the protocol requires
// arguments and tuples to be arrays.
func encodeArgs(enc *msgpack.Encoder, v interface{}) error {
	if v == nil {
		return enc.EncodeArrayLen(0)
	}
	return enc.Encode(v)
}

// --------------------------------------------------------------------------
// Request Types and Factory Functions
// --------------------------------------------------------------------------

// PingRequest probes the peer; it carries an empty body.
type PingRequest struct{}

// NewPingRequest creates a new Ping request
func NewPingRequest() *PingRequest { return &PingRequest{} }

func (r *PingRequest) Type() RequestType { return TypePing }

func (r *PingRequest) EncodeBody(enc *msgpack.Encoder) error {
	return enc.EncodeMapLen(0)
}

// CallRequest invokes a stored procedure by name.
type CallRequest struct {
	Function string
	Args     interface{}
}

// NewCallRequest creates a new Call request
func NewCallRequest(function string, args interface{}) *CallRequest {
	return &CallRequest{Function: function, Args: args}
}

func (r *CallRequest) Type() RequestType { return TypeCall }

func (r *CallRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyFunctionName); err != nil {
		return err
	}
	if err := enc.EncodeString(r.Function); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyTuple); err != nil {
		return err
	}
	return encodeArgs(enc, r.Args)
}

// EvalRequest evaluates an expression on the peer.
type EvalRequest struct {
	Expr string
	Args interface{}
}

// NewEvalRequest creates a new Eval request
func NewEvalRequest(expr string, args interface{}) *EvalRequest {
	return &EvalRequest{Expr: expr, Args: args}
}

func (r *EvalRequest) Type() RequestType { return TypeEval }

func (r *EvalRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyExpr); err != nil {
		return err
	}
	if err := enc.EncodeString(r.Expr); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyTuple); err != nil {
		return err
	}
	return encodeArgs(enc, r.Args)
}

// SelectRequest reads tuples from a space by key through an index.
type SelectRequest struct {
	SpaceID  uint32
	IndexID  uint32
	Limit    uint32
	Offset   uint32
	Iterator Iter
	Key      interface{}
}

// NewSelectRequest creates a new Select request
func NewSelectRequest(spaceID, indexID uint32, iterator Iter, key interface{}, limit, offset uint32) *SelectRequest {
	return &SelectRequest{
		SpaceID:  spaceID,
		IndexID:  indexID,
		Limit:    limit,
		Offset:   offset,
		Iterator: iterator,
		Key:      key,
	}
}

func (r *SelectRequest) Type() RequestType { return TypeSelect }

func (r *SelectRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(6); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeySpaceID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.SpaceID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyIndexID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.IndexID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyLimit); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.Limit)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyOffset); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.Offset)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyIterator); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.Iterator)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyKey); err != nil {
		return err
	}
	return encodeArgs(enc, r.Key)
}

// InsertRequest stores a new tuple in a space. Fails if a tuple with the
// same primary key already exists.
type InsertRequest struct {
	SpaceID uint32
	Tuple   interface{}
}

// NewInsertRequest creates a new Insert request
func NewInsertRequest(spaceID uint32, tuple interface{}) *InsertRequest {
	return &InsertRequest{SpaceID: spaceID, Tuple: tuple}
}

func (r *InsertRequest) Type() RequestType { return TypeInsert }

func (r *InsertRequest) EncodeBody(enc *msgpack.Encoder) error {
	return encodeSpaceTuple(enc, r.SpaceID, r.Tuple)
}

// ReplaceRequest stores a tuple in a space, overwriting an existing tuple
// with the same primary key.
type ReplaceRequest struct {
	SpaceID uint32
	Tuple   interface{}
}

// NewReplaceRequest creates a new Replace request
func NewReplaceRequest(spaceID uint32, tuple interface{}) *ReplaceRequest {
	return &ReplaceRequest{SpaceID: spaceID, Tuple: tuple}
}

func (r *ReplaceRequest) Type() RequestType { return TypeReplace }

func (r *ReplaceRequest) EncodeBody(enc *msgpack.Encoder) error {
	return encodeSpaceTuple(enc, r.SpaceID, r.Tuple)
}

// encodeSpaceTuple writes the shared body of insert and replace requests.
func encodeSpaceTuple(enc *msgpack.Encoder, spaceID uint32, tuple interface{}) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeySpaceID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(spaceID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyTuple); err != nil {
		return err
	}
	return encodeArgs(enc, tuple)
}

// UpdateRequest applies a list of update operations to the tuple matching
// the given key. Each operation is an array of the form [op, field, arg].
type UpdateRequest struct {
	SpaceID uint32
	IndexID uint32
	Key     interface{}
	Ops     interface{}
}

// NewUpdateRequest creates a new Update request
func NewUpdateRequest(spaceID, indexID uint32, key, ops interface{}) *UpdateRequest {
	return &UpdateRequest{SpaceID: spaceID, IndexID: indexID, Key: key, Ops: ops}
}

func (r *UpdateRequest) Type() RequestType { return TypeUpdate }

func (r *UpdateRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeySpaceID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.SpaceID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyIndexID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.IndexID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyKey); err != nil {
		return err
	}
	if err := encodeArgs(enc, r.Key); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyOps); err != nil {
		return err
	}
	return encodeArgs(enc, r.Ops)
}

// DeleteRequest removes the tuple matching the given key.
type DeleteRequest struct {
	SpaceID uint32
	IndexID uint32
	Key     interface{}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(spaceID, indexID uint32, key interface{}) *DeleteRequest {
	return &DeleteRequest{SpaceID: spaceID, IndexID: indexID, Key: key}
}

func (r *DeleteRequest) Type() RequestType { return TypeDelete }

func (r *DeleteRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(3); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeySpaceID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.SpaceID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyIndexID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.IndexID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyKey); err != nil {
		return err
	}
	return encodeArgs(enc, r.Key)
}

// UpsertRequest inserts the tuple if no tuple with its primary key exists,
// otherwise applies the update operations to the existing tuple.
type UpsertRequest struct {
	SpaceID uint32
	Tuple   interface{}
	Ops     interface{}
}

// NewUpsertRequest creates a new Upsert request
func NewUpsertRequest(spaceID uint32, tuple, ops interface{}) *UpsertRequest {
	return &UpsertRequest{SpaceID: spaceID, Tuple: tuple, Ops: ops}
}

func (r *UpsertRequest) Type() RequestType { return TypeUpsert }

func (r *UpsertRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(3); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeySpaceID); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.SpaceID)); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyTuple); err != nil {
		return err
	}
	if err := encodeArgs(enc, r.Tuple); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyOps); err != nil {
		return err
	}
	return encodeArgs(enc, r.Ops)
}
