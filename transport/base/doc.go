// Package base implements the transport core shared by all socket based
// transports (tcp, unix): connection establishment with greeting and
// authentication, request multiplexing over pipelined connections,
// reconnect handling with capped exponential backoff, and the connection
// pool.
//
// Concurrency model: every connection owns exactly two goroutines while a
// session is established - a read loop that decodes response frames and
// resolves the matching pending request by its sync id, and a write pump
// that is the only writer of the socket. Submitters hand encoded frames to
// the pump through a channel and suspend there when the socket applies
// backpressure; because the pump is the single writer, a frame is either
// written in full or not at all, and canceling a request never leaves a
// partial frame on the wire.
//
// Key Components:
//
//   - IClientConnector: dependency injection point for the concrete
//     socket type (tcp, unix, or an in-memory fake in tests)
//
//   - clientConnection: one socket plus its state machine, pending
//     request table and reconnect loop
//
//   - clientTransport: the pool - routing, state watching, shutdown
//
// Use NewBaseClientTransport with a connector to obtain a
// transport.IClientTransport.
package base
