package iproto

import (
	"encoding/base64"
	"testing"
)

// buildBanner constructs a greeting banner the way the server writes it:
// two 64 byte lines, each terminated with a newline and padded with spaces
func buildBanner(version string, salt []byte) []byte {
	banner := make([]byte, GreetingSize)
	for i := range banner {
		banner[i] = ' '
	}

	copy(banner, version)
	banner[greetingLineSize-1] = '\n'

	copy(banner[greetingLineSize:], base64.StdEncoding.EncodeToString(salt))
	banner[GreetingSize-1] = '\n'

	return banner
}

// TestParseGreeting verifies parsing of a well-formed banner
func TestParseGreeting(t *testing.T) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i * 7)
	}

	version := "Tarantool 2.10.4 (Binary) 7b2ad1a2-0d45-4c95-9e12-3a67b9f0a1cd"
	g, err := ParseGreeting(buildBanner(version, salt))
	if err != nil {
		t.Fatalf("failed to parse greeting: %v", err)
	}

	if g.Version != version {
		t.Errorf("expected version %q, got %q", version, g.Version)
	}
	if len(g.Salt) != len(salt) {
		t.Fatalf("expected %d salt bytes, got %d", len(salt), len(g.Salt))
	}
	for i := range salt {
		if g.Salt[i] != salt[i] {
			t.Fatalf("salt mismatch at byte %d", i)
		}
	}
}

// TestParseGreetingInvalid verifies that malformed banners are rejected
func TestParseGreetingInvalid(t *testing.T) {
	salt := make([]byte, 32)

	testCases := []struct {
		name   string
		banner []byte
	}{
		{name: "too short", banner: make([]byte, GreetingSize-1)},
		{name: "too long", banner: make([]byte, GreetingSize+1)},
		{name: "empty version line", banner: buildBanner("", salt)},
		{name: "short salt", banner: buildBanner("Tarantool 2.10.4 (Binary)", salt[:10])},
		{
			name: "salt is not base64",
			banner: func() []byte {
				b := buildBanner("Tarantool 2.10.4 (Binary)", salt)
				copy(b[greetingLineSize:], "!!! not base64 !!!")
				return b
			}(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseGreeting(tc.banner); err == nil {
				t.Error("expected an error but got none")
			}
		})
	}
}
