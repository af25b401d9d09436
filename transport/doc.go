// Package transport defines the client transport abstraction of the
// binary protocol client: the interface implemented by the concrete
// transports (see transport/base with the tcp and unix connectors), the
// Future handle for in-flight requests, the connection state machine and
// the typed error values shared by all transport implementations.
//
// Key Components:
//
//   - IClientTransport: the surface the typed client is built on
//     (Connect, Do, DoAsync, Subscribe, Close)
//
//   - Future: single-resolution handle for an in-flight request with
//     wait, context wait and cancellation
//
//   - StateMachine: the explicit connection lifecycle
//     (Disconnected -> Connecting -> Authenticating -> Ready -> Closing)
//     with observable transitions
//
//   - Typed errors: ErrConnectionLost, ErrUnreachable, ConnectError,
//     AuthError and friends
package transport
