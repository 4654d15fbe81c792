package attendance

import "fmt"

// Kind classifies attendance failures.
type Kind int

const (
	KindInputMissing Kind = iota + 1
	KindDuplicateSubmission
	KindCodeNotFound
	KindCodeExpired
	KindGenerationFailure
)

func (k Kind) String() string {
	switch k {
	case KindInputMissing:
		return "input_missing"
	case KindDuplicateSubmission:
		return "duplicate_submission"
	case KindCodeNotFound:
		return "code_not_found"
	case KindCodeExpired:
		return "code_expired"
	case KindGenerationFailure:
		return "generation_failure"
	default:
		return "unknown"
	}
}

// Error carries a failure kind and a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrCodeExpired) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInputMissing        = &Error{Kind: KindInputMissing, Message: MsgInputMissing}
	ErrDuplicateSubmission = &Error{Kind: KindDuplicateSubmission, Message: MsgDuplicate}
	ErrCodeNotFound        = &Error{Kind: KindCodeNotFound, Message: MsgCodeUnknown}
	ErrCodeExpired         = &Error{Kind: KindCodeExpired, Message: MsgCodeExpired}
	ErrGenerationFailure   = &Error{Kind: KindGenerationFailure, Message: MsgGenerationFailed}
)

// User-facing messages.
const (
	MsgAccepted         = "Attendance marked successfully!"
	MsgInputMissing     = "QR code and student ID are required"
	MsgDuplicate        = "You have already marked attendance"
	MsgCodeUnknown      = "Invalid or already used QR code"
	MsgCodeExpired      = "QR code has expired"
	MsgGenerationFailed = "Failed to generate QR code"
)
