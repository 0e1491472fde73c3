package auth

import (
	"encoding/json"
	"fmt"
)

// AdminFlagSentinel marks a persisted admin session. It is a local routing
// hint, the server remains the only authority on the token.
const AdminFlagSentinel = "true"

// User is the admin record returned by the EduFolio API.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`

	// raw keeps the record as received, so unknown fields survive persisting
	raw json.RawMessage
}

func ParseUser(raw json.RawMessage) (*User, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("user record missing")
	}

	user := &User{}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, fmt.Errorf("unmarshal user record: %w", err)
	}
	user.raw = append(json.RawMessage(nil), raw...)

	return user, nil
}

// Raw returns the user record as it was received from the server.
func (u *User) Raw() json.RawMessage {
	if u == nil {
		return nil
	}
	if len(u.raw) > 0 {
		return u.raw
	}
	b, _ := json.Marshal(u)
	return b
}

// DisplayName prefers the name, and falls back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Session is the console's belief about who is logged in.
// IsAuthenticated is true only with a token the server verified or issued.
type Session struct {
	Token           string
	User            *User
	IsAuthenticated bool
	Loading         bool
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// CheckResult tells how the startup verification ended.
type CheckResult string

const (
	CheckNoCredentials        CheckResult = "no_credentials"
	CheckVerified             CheckResult = "verified"
	CheckVerificationRejected CheckResult = "verification_rejected"
	CheckTransportFailure     CheckResult = "transport_failure"
	CheckAlreadyDone          CheckResult = "already_done"
)
