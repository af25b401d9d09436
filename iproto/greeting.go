package iproto

import (
	"encoding/base64"
	"strings"
)

// --------------------------------------------------------------------------
// Connection Greeting
// --------------------------------------------------------------------------

const (
	// GreetingSize is the fixed size of the banner the server sends
	// immediately after the socket is established.
	GreetingSize = 128

	// greetingLineSize is the size of each of the two greeting lines.
	greetingLineSize = 64

	// ScrambleSize is the number of salt bytes used by the chap-sha1
	// authentication scheme.
	ScrambleSize = 20
)

// Greeting is the parsed server banner: a human readable version line and
// the random salt used to authenticate the session.
type Greeting struct {
	// Version is the server version string, e.g. "Tarantool 2.10.4 (Binary) ..."
	Version string

	// Salt is the decoded session salt (at least ScrambleSize bytes)
	Salt []byte
}

// ParseGreeting parses the fixed-size banner read from a fresh connection.
// The first 64-byte line carries the server version, the second line the
// base64 encoded session salt.
func ParseGreeting(banner []byte) (*Greeting, error) {
	if len(banner) != GreetingSize {
		return nil, decodingErrorf("greeting must be %d bytes, got %d", GreetingSize, len(banner))
	}

	version := strings.TrimRight(string(banner[:greetingLineSize]), " \n\x00")
	if version == "" {
		return nil, decodingErrorf("greeting carries an empty version line")
	}

	saltLine := strings.TrimRight(string(banner[greetingLineSize:]), " \n\x00")
	salt, err := base64.StdEncoding.DecodeString(saltLine)
	if err != nil {
		return nil, decodingErrorf("greeting salt is not valid base64: %v", err)
	}
	if len(salt) < ScrambleSize {
		return nil, decodingErrorf("greeting salt is %d bytes, need at least %d", len(salt), ScrambleSize)
	}

	return &Greeting{Version: version, Salt: salt}, nil
}
