package iproto

import (
	"crypto/sha1"

	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// chap-sha1 Authentication
// --------------------------------------------------------------------------

// authMechanism is the only authentication scheme supported by the binary
// protocol handshake.
const authMechanism = "chap-sha1"

// Scramble derives the chap-sha1 challenge response from the session salt
// and the user's password:
//
//	step1    = sha1(password)
//	step2    = sha1(step1)
//	step3    = sha1(salt[0:20] + step2)
//	scramble = xor(step1, step3)
//
// The password itself never crosses the wire.
func Scramble(salt []byte, password string) []byte {
	step1 := sha1.Sum([]byte(password))
	step2 := sha1.Sum(step1[:])

	h := sha1.New()
	h.Write(salt[:ScrambleSize])
	h.Write(step2[:])
	step3 := h.Sum(nil)

	scramble := make([]byte, ScrambleSize)
	for i := range scramble {
		scramble[i] = step1[i] ^ step3[i]
	}
	return scramble
}

// --------------------------------------------------------------------------
// Auth Request
// --------------------------------------------------------------------------

// AuthRequest authenticates the session using the salt from the greeting.
type AuthRequest struct {
	User     string
	scramble []byte
}

// NewAuthRequest creates a new Auth request for the given credentials and
// session salt
func NewAuthRequest(user, password string, salt []byte) *AuthRequest {
	return &AuthRequest{
		User:     user,
		scramble: Scramble(salt, password),
	}
}

func (r *AuthRequest) Type() RequestType { return TypeAuth }

func (r *AuthRequest) EncodeBody(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyUserName); err != nil {
		return err
	}
	if err := enc.EncodeString(r.User); err != nil {
		return err
	}
	if err := enc.EncodeUint(KeyTuple); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(authMechanism); err != nil {
		return err
	}
	// The scramble is sent as a MessagePack string for compatibility with
	// servers that do not accept the bin type here
	return enc.EncodeString(string(r.scramble))
}
