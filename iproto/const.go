package iproto

// --------------------------------------------------------------------------
// Request Types
// --------------------------------------------------------------------------

// RequestType identifies the operation carried by a frame. The values are
// fixed by the IPROTO protocol.
type RequestType uint64

const (
	TypeSelect  RequestType = 0x01
	TypeInsert  RequestType = 0x02
	TypeReplace RequestType = 0x03
	TypeUpdate  RequestType = 0x04
	TypeDelete  RequestType = 0x05
	TypeAuth    RequestType = 0x07
	TypeEval    RequestType = 0x08
	TypeUpsert  RequestType = 0x09
	TypeCall    RequestType = 0x0a
	TypePing    RequestType = 0x40
)

// String returns the string representation of a RequestType.
func (t RequestType) String() string {
	switch t {
	case TypeSelect:
		return "select"
	case TypeInsert:
		return "insert"
	case TypeReplace:
		return "replace"
	case TypeUpdate:
		return "update"
	case TypeDelete:
		return "delete"
	case TypeAuth:
		return "auth"
	case TypeEval:
		return "eval"
	case TypeUpsert:
		return "upsert"
	case TypeCall:
		return "call"
	case TypePing:
		return "ping"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Header and Body Keys
// --------------------------------------------------------------------------

// Fixed integer keys of the frame header map.
const (
	KeyRequestType   = 0x00
	KeySync          = 0x01
	KeySchemaVersion = 0x05
)

// Fixed integer keys of the frame body map.
const (
	KeySpaceID      = 0x10
	KeyIndexID      = 0x11
	KeyLimit        = 0x12
	KeyOffset       = 0x13
	KeyIterator     = 0x14
	KeyKey          = 0x20
	KeyTuple        = 0x21
	KeyFunctionName = 0x22
	KeyUserName     = 0x23
	KeyExpr         = 0x27
	KeyOps          = 0x28
	KeyData         = 0x30
	KeyError        = 0x31
)

// --------------------------------------------------------------------------
// Response Codes
// --------------------------------------------------------------------------

const (
	// ResponseCodeOK indicates a successful request.
	ResponseCodeOK uint64 = 0x00

	// responseCodeErrBit is set on the response code of failed requests.
	// The lower bits carry the server error code.
	responseCodeErrBit uint64 = 0x8000
)

// --------------------------------------------------------------------------
// Iterator Types
// --------------------------------------------------------------------------

// Iter selects the iteration order and matching rule of a select request.
type Iter uint32

const (
	IterEq  Iter = 0 // key == x
	IterReq Iter = 1 // key == x, reverse order
	IterAll Iter = 2 // all tuples
	IterLt  Iter = 3 // key < x
	IterLe  Iter = 4 // key <= x
	IterGe  Iter = 5 // key >= x
	IterGt  Iter = 6 // key > x
)

// --------------------------------------------------------------------------
// Server Error Codes
// --------------------------------------------------------------------------

// Codes reported by the server in the error bits of the response code.
// Only the codes the client reacts to (or that show up in practice) are
// named here; everything else is reported numerically.
const (
	ErrCodeUnknown            uint32 = 0
	ErrCodeIllegalParams      uint32 = 1
	ErrCodeTupleFound         uint32 = 3
	ErrCodeTupleNotFound      uint32 = 4
	ErrCodeUnsupported        uint32 = 5
	ErrCodeReadonly           uint32 = 7
	ErrCodeInvalidMsgpack     uint32 = 20
	ErrCodeNoSuchProc         uint32 = 33
	ErrCodeNoSuchSpace        uint32 = 36
	ErrCodeAccessDenied       uint32 = 42
	ErrCodeNoSuchUser         uint32 = 45
	ErrCodePasswordMismatch   uint32 = 47
	ErrCodeUnknownRequestType uint32 = 48
	ErrCodeNoConnection       uint32 = 77
	ErrCodeTimeout            uint32 = 78
	ErrCodeProtocol           uint32 = 104
	ErrCodeWrongSchemaVersion uint32 = 109
	ErrCodeSessionClosed      uint32 = 86
)

// errCodeNames maps the named server error codes to a readable identifier.
var errCodeNames = map[uint32]string{
	ErrCodeUnknown:            "Unknown",
	ErrCodeIllegalParams:      "IllegalParams",
	ErrCodeTupleFound:         "TupleFound",
	ErrCodeTupleNotFound:      "TupleNotFound",
	ErrCodeUnsupported:        "Unsupported",
	ErrCodeReadonly:           "Readonly",
	ErrCodeInvalidMsgpack:     "InvalidMsgpack",
	ErrCodeNoSuchProc:         "NoSuchProc",
	ErrCodeNoSuchSpace:        "NoSuchSpace",
	ErrCodeAccessDenied:       "AccessDenied",
	ErrCodeNoSuchUser:         "NoSuchUser",
	ErrCodePasswordMismatch:   "PasswordMismatch",
	ErrCodeUnknownRequestType: "UnknownRequestType",
	ErrCodeNoConnection:       "NoConnection",
	ErrCodeTimeout:            "Timeout",
	ErrCodeProtocol:           "Protocol",
	ErrCodeWrongSchemaVersion: "WrongSchemaVersion",
	ErrCodeSessionClosed:      "SessionClosed",
}

// --------------------------------------------------------------------------
// System Spaces
// --------------------------------------------------------------------------

// Well known ids of the system views used for schema resolution.
const (
	VSpaceID        uint32 = 281 // _vspace: all spaces visible to the session
	VIndexID        uint32 = 289 // _vindex: all indexes visible to the session
	VSpaceNameIndex uint32 = 2   // index of _vspace keyed by space name
	VIndexNameIndex uint32 = 2   // index of _vindex keyed by (space id, name)
)
