// Package client implements the typed database client on top of the
// transport layer. It provides the request surface an application works
// with: ping, server side call/eval and the data manipulation operations of
// a space.
//
// Key Components:
//
//   - New: Factory function that connects the given transport and returns an
//     IClient. All operations forward to the transport's connection pool and
//     share its reconnect handling.
//
//   - Space: Handle for one database space. It is obtained by name (resolved
//     against the server's schema) or directly by id and carries the select,
//     insert, replace, update, delete and upsert operations.
//
// Schema resolution looks space and index names up in the system views
// (_vspace, _vindex) and caches the resolved ids. The cache is invalidated
// whenever a connection of the pool becomes ready again, since a reconnect
// may observe a changed schema, and can be flushed manually with
// InvalidateSchema.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:3301"},
//	  User:          "app",
//	  Password:      "secret",
//	  TimeoutSecond: 5,
//	}
//
//	c, _ := client.New(config, tcp.NewTCPClientTransport())
//	defer c.Close()
//
//	// Server side execution
//	resp, _ := c.Call(ctx, "box.info", nil)
//
//	// Space operations
//	users, _ := c.Space(ctx, "users")
//	_, _ = users.Insert(ctx, []interface{}{1, "alice"})
//	resp, _ = users.Select(ctx, "", iproto.IterEq, []interface{}{1}, 1, 0)
//
// Thread Safety:
//
//	The client is safe for concurrent use from multiple goroutines without
//	additional synchronization.
package client
