package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Socket configuration structs
// --------------------------------------------------------------------------

// SocketConf holds the buffer sizes applied to every established socket.
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options (ignored by other transports).
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// Selection strategies for picking a connection from the pool.
const (
	SelectRoundRobin   = "round-robin"
	SelectLeastPending = "least-pending"
)

// ClientConfig holds all configuration parameters for a client.
type ClientConfig struct {
	// Connection endpoints ("host:port" or unix socket paths)
	Endpoints []string

	// Credentials; an empty User skips the authentication exchange
	User     string
	Password string

	// Timeouts
	TimeoutSecond        int // per-request timeout, 0 disables
	ConnectTimeoutSecond int // dial plus handshake timeout

	// Pool settings
	ConnectionsPerEndpoint int
	Selection              string // SelectRoundRobin or SelectLeastPending

	// Reconnect policy
	ReconnectMaxAttempts int // consecutive failures before a connection is given up
	ReconnectBaseDelayMs int // initial backoff delay
	ReconnectMaxDelayMs  int // backoff cap

	// RetryIdempotent resubmits requests explicitly marked idempotent by
	// the caller once after a successful reconnect. All other in-flight
	// requests fail with a connection-lost error and retrying is the
	// caller's decision.
	RetryIdempotent bool

	// QueueWhileReconnecting makes submissions wait for a connection to
	// become ready instead of failing fast while the pool has no healthy
	// connection.
	QueueWhileReconnecting bool

	// SkipSchema disables schema resolution on connect (space lookups by
	// name will fail, lookups by id keep working)
	SkipSchema bool

	// Socket tuning
	SocketConf SocketConf
	TCPConf    TCPConf

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for values the client cannot work with.
func (c *ClientConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	if c.Selection != "" && c.Selection != SelectRoundRobin && c.Selection != SelectLeastPending {
		return fmt.Errorf("invalid selection strategy %q", c.Selection)
	}
	if c.Password != "" && c.User == "" {
		return fmt.Errorf("a password was provided without a user")
	}
	return nil
}

// String returns a formatted string representation of the configuration.
// The password is never printed.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	if c.User != "" {
		addField("User", c.User)
	} else {
		addField("User", "<guest>")
	}
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Timeout", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))
	if c.Selection != "" {
		addField("Selection", c.Selection)
	} else {
		addField("Selection", SelectRoundRobin)
	}

	addSection("Reconnect Policy")
	addField("Max Attempts", strconv.Itoa(c.ReconnectMaxAttempts))
	addField("Base Delay", fmt.Sprintf("%d ms", c.ReconnectBaseDelayMs))
	addField("Max Delay", fmt.Sprintf("%d ms", c.ReconnectMaxDelayMs))
	addField("Retry Idempotent", strconv.FormatBool(c.RetryIdempotent))
	addField("Queue While Reconnecting", strconv.FormatBool(c.QueueWhileReconnecting))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
