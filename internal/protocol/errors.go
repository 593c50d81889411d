package protocol

// ACK codes. An accepted ACT carries no code.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST" // undecodable JSON or wrong protocol_version
	ErrBadRequest      = "E_BAD_REQUEST"       // rejected by act.schema.json
	ErrInvalidTarget   = "E_INVALID_TARGET"    // unknown block or dimension, or a bad depth
	ErrBusy            = "E_BUSY"              // engine queue full, retry later
	ErrInternal        = "E_INTERNAL"
)

// IsKnownCode reports whether code may appear in an ACK. The empty code is valid.
func IsKnownCode(code string) bool {
	switch code {
	case "", ErrProtoBadRequest, ErrBadRequest, ErrInvalidTarget, ErrBusy, ErrInternal:
		return true
	}
	return false
}
