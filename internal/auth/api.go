package auth

import (
	"context"
	"encoding/json"
)

const (
	VerifyPath   = "/api/admin/verify"
	LoginPath    = "/api/admin/login"
	PasswordPath = "/api/admin/password"
)

// Client is the part of *apiclient.Client the Manager depends on.
type Client interface {
	Do(ctx context.Context, method, path string, body, out any) error
	Bind(token string)
	Unbind()
	Authorization() (string, bool)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

type verifyResponse struct {
	Valid bool            `json:"valid"`
	User  json.RawMessage `json:"user"`
}

type passwordUpdate struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
