package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a failed remote call.
type Kind string

const (
	// KindTransport covers connection failures and timeouts.
	KindTransport Kind = "transport"
	// KindStatus covers non-2xx responses.
	KindStatus Kind = "status"
	// KindDecode covers bodies that are not the expected JSON.
	KindDecode Kind = "decode"
	// KindRejected covers ok=false responses carrying an error/code pair.
	KindRejected Kind = "rejected"
)

// Codes returned by the endpoint.
const (
	CodeDuplicate    = "DUPLICATE"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
)

var (
	// ErrDuplicate matches a request the endpoint already applied under the same requestId.
	ErrDuplicate = errors.New("remote: duplicate request")
	// ErrNotFound matches a lookup for a record the endpoint does not hold.
	ErrNotFound = errors.New("remote: record not found")
	// ErrInvalidMode indicates a mode other than consumption, issue or rollover.
	ErrInvalidMode = errors.New("remote: unknown mode")
)

// Error describes a failed remote call.
type Error struct {
	Kind    Kind
	Action  string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("remote %s: http status %d: %s", e.Action, e.Status, e.Message)
	case KindRejected:
		if e.Code != "" {
			return fmt.Sprintf("remote %s: %s (%s)", e.Action, e.Message, e.Code)
		}
		return fmt.Sprintf("remote %s: %s", e.Action, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("remote %s: %s: %v", e.Action, e.Kind, e.Err)
		}
		return fmt.Sprintf("remote %s: %s", e.Action, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the semantic sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDuplicate:
		return e.Code == CodeDuplicate
	case ErrNotFound:
		return e.Code == CodeNotFound
	}
	return false
}

// IsSemantic reports whether err is a remote verdict (duplicate, not found)
// rather than a failure to reach or understand the endpoint.
func IsSemantic(err error) bool {
	return errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound)
}
