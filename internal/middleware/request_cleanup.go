package middleware

import (
	"io"
	"net/http"
)

// MaxFormBodyBytes bounds the console forms (login, password change).
const MaxFormBodyBytes = 64 << 10

// LimitAndDrainRequest caps the request body at maxBodyBytes and, once the
// handler returns, discards what it left unread so the connection can be reused.
func LimitAndDrainRequest(maxBodyBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
			r.Body = body
			next.ServeHTTP(w, r)

			// reads past the limit fail, so this stops at maxBodyBytes
			_, _ = io.Copy(io.Discard, body)
			_ = body.Close()
		})
	}
}
