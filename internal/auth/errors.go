package auth

import (
	"errors"
	"fmt"

	"github.com/edufolio/adminconsole/internal/apiclient"
)

var ErrLoginInProgress = errors.New("login already in progress")

type Kind int

const (
	// KindTransport means no response was received at all.
	KindTransport Kind = iota + 1
	// KindRejected means the server answered a login or password update with an error.
	KindRejected
	// KindVerificationRejected means the server refused the stored token.
	KindVerificationRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport_failure"
	case KindRejected:
		return "authentication_rejected"
	case KindVerificationRejected:
		return "verification_rejected"
	default:
		return "unknown"
	}
}

const (
	OpVerify         = "verify"
	OpLogin          = "login"
	OpUpdatePassword = "update_password"
)

// Error is returned by the Manager operations that talk to the API.
// The underlying apiclient error stays reachable through errors.As.
type Error struct {
	Kind Kind
	Op   string
	// StatusCode is 0 when no response was received.
	StatusCode int
	// Message is the server-supplied message, if any.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify turns an apiclient failure into an *Error of the right kind.
// rejectedKind is used for the "server answered with an error" case.
func classify(op string, rejectedKind Kind, err error) *Error {
	var transportErr *apiclient.TransportError
	if errors.As(err, &transportErr) {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}

	authErr := &Error{Kind: rejectedKind, Op: op, Err: err}
	var respErr *apiclient.ResponseError
	if errors.As(err, &respErr) {
		authErr.StatusCode = respErr.StatusCode
		authErr.Message = respErr.Message
	}
	return authErr
}

func KindOf(err error) (Kind, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return 0, false
}

const (
	MsgAuthenticationFailed = "Authentication failed"
	MsgNetworkError         = "Network error, please try again"
	MsgLoginInProgress      = "A login is already in progress"
)

// MessageFor derives the text shown to the operator for a failed operation:
// the server's own message when there is one, otherwise a generic message
// depending on whether the server answered at all.
func MessageFor(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrLoginInProgress) {
		return MsgLoginInProgress
	}

	var authErr *Error
	if errors.As(err, &authErr) {
		if authErr.Message != "" {
			return authErr.Message
		}
		if authErr.Kind == KindTransport {
			return MsgNetworkError
		}
		return MsgAuthenticationFailed
	}

	if apiclient.IsTransportError(err) {
		return MsgNetworkError
	}
	return MsgAuthenticationFailed
}
