// Package testsrv provides a small scriptable in-process server speaking
// the binary protocol. Tests use it to exercise the full client stack over
// real sockets: greeting and authentication, response reordering, malformed
// frames, abrupt connection drops and server restarts.
//
// The server is not a database. By default every request is answered with an
// empty OK response (and auth requests are validated against the configured
// users); a test installs a Handler to script any other behavior.
package testsrv
