// Package session holds the durable key-value stores the console keeps its
// session in. A store only ever holds three keys (see KeyToken, KeyUser and
// KeyAdmin), and it is written exclusively by the auth.Manager.
package session

import (
	"context"
)

const (
	KeyToken = "token"
	KeyUser  = "user"
	KeyAdmin = "isAdmin"
)

// Keys lists all the keys a session is persisted under.
var Keys = []string{KeyToken, KeyUser, KeyAdmin}

type Store interface {
	// Get never fails: a missing key and a backend error both
	// report the value as absent.
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
