package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/transport"
	"github.com/ValentinKolb/goTNT/transport/tcp"
	"github.com/ValentinKolb/goTNT/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the common connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoints"
	cmd.PersistentFlags().String(key, "localhost:3301", WrapString("The address of the database server. Multiple endpoints can be specified as a comma-separated list"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("User to authenticate as (empty connects as guest)"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for the user (prefer the GOTNT_PASSWORD environment variable)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The per-request timeout in seconds of the client"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The dial and handshake timeout in seconds"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint"))

	key = "selection"
	cmd.PersistentFlags().String(key, common.SelectRoundRobin, WrapString("How to pick a connection for a request (round-robin, least-pending)"))

	key = "reconnect-max-attempts"
	cmd.PersistentFlags().Int(key, 10, WrapString("Consecutive reconnect failures before a connection is given up"))

	key = "reconnect-base-delay"
	cmd.PersistentFlags().Int(key, 50, WrapString("Initial reconnect backoff delay in milliseconds"))

	key = "reconnect-max-delay"
	cmd.PersistentFlags().Int(key, 5000, WrapString("Reconnect backoff cap in milliseconds"))

	key = "retry-idempotent"
	cmd.PersistentFlags().Bool(key, false, WrapString("Resubmit requests marked idempotent once after a reconnect"))

	key = "queue-while-reconnecting"
	cmd.PersistentFlags().Bool(key, false, WrapString("Queue submissions while no connection is ready instead of failing fast"))

	key = "skip-schema"
	cmd.PersistentFlags().Bool(key, false, WrapString("Disable schema resolution (spaces must be addressed by id)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time in seconds (only for tcp)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warning", WrapString("Log level of the client (debug, info, warning, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("gotnt")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		Endpoints:              strings.Split(viper.GetString("endpoints"), ","),
		User:                   viper.GetString("user"),
		Password:               viper.GetString("password"),
		TimeoutSecond:          viper.GetInt("timeout"),
		ConnectTimeoutSecond:   viper.GetInt("connect-timeout"),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
		Selection:              viper.GetString("selection"),
		ReconnectMaxAttempts:   viper.GetInt("reconnect-max-attempts"),
		ReconnectBaseDelayMs:   viper.GetInt("reconnect-base-delay"),
		ReconnectMaxDelayMs:    viper.GetInt("reconnect-max-delay"),
		RetryIdempotent:        viper.GetBool("retry-idempotent"),
		QueueWhileReconnecting: viper.GetBool("queue-while-reconnecting"),
		SkipSchema:             viper.GetBool("skip-schema"),
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		},
		LogLevel: viper.GetString("log-level"),
	}

	return conf
}

// GetTransport creates transport based on configuration
func GetTransport() (transport.IClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
