package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/internal/telemetry/tracing"
	"github.com/edufolio/adminconsole/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const NextParam = "next"

//go:generate mockgen -source=$GOFILE -destination=guard_mocks_test.go -package=middleware_test

type SessionReader interface {
	Session() auth.Session
}

const waitingPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>EduFolio Admin</title>
</head>
<body>
<p>Checking your session&hellip;</p>
</body>
</html>
`

// SessionGuard admits only requests made while the console holds an
// authenticated session. While the startup check is still running, a waiting
// page is served instead; no redirect is decided before that.
// Unauthenticated requests are sent to loginPath, remembering where they were going.
func SessionGuard(reader SessionReader, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.sessionGuard")
			defer span.End()

			s := reader.Session()
			if s.Loading {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Cache-Control", "no-store")
				pkg.WriteResponseBytes(w, pkg.ContentType.HTML, []byte(waitingPage), http.StatusServiceUnavailable)
				span.SetStatus(codes.Ok, "loading")
				return
			}

			if !s.IsAuthenticated {
				log.Tracef("[session guard] not authenticated => %s", r.URL.Path)
				http.Redirect(w, r, LoginRedirectURL(loginPath, r.URL.RequestURI()), http.StatusSeeOther)
				span.SetStatus(codes.Error, "not-authenticated")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoginRedirectURL returns loginPath, carrying the destination in the next
// parameter when it is a safe one.
func LoginRedirectURL(loginPath, destination string) string {
	next, ok := SafeNext(destination)
	if !ok || next == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{NextParam: {next}}.Encode()
}

// SafeNext accepts only same-site absolute paths, e.g. "/account/password?x=1".
// Anything with a scheme or host, or protocol relative ("//evil.com"), is refused.
func SafeNext(next string) (string, bool) {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "", false
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") || strings.ContainsAny(next, "\r\n") {
		return "", false
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "", false
	}

	return u.RequestURI(), true
}
