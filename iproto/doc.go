// Package iproto implements the pure protocol layer of the Tarantool binary
// protocol (IPROTO): MessagePack encoding of request frames, decoding of
// response frames, the connection greeting and the chap-sha1 authentication
// scramble. The package performs no I/O and holds no shared state - every
// function is a pure transformation over byte slices, which makes the codec
// testable without a live socket.
//
// A frame on the wire consists of a MessagePack-encoded unsigned integer
// declaring the payload length, followed by a header map (request type,
// sync id, schema version under fixed integer keys) and an operation
// specific body map.
//
// Key Components:
//
//   - IRequest: interface implemented by all request types (Ping, Auth,
//     Call, Eval, Select, Insert, Replace, Update, Delete, Upsert)
//
//   - Encode / Decode: frame codec; Decode reports an incomplete buffer
//     without error so callers can keep buffering
//
//   - Response: decoded response frame with typed access to the returned
//     data and the server error (if any)
//
//   - ParseGreeting / Scramble: handshake and authentication primitives
//
// This package is used by the transport layer for all wire traffic. See the
// transport/base package for the connection and request multiplexing logic
// built on top of this codec.
package iproto
