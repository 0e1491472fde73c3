package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edufolio/adminconsole/internal/apiclient"
	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/internal/session"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testApi plays the EduFolio admin API for a single admin.
type testApi struct {
	email    string
	password string
	token    string
}

func (a *testApi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	user := `{"email":"` + a.email + `"}`

	switch r.URL.Path {
	case auth.VerifyPath:
		if r.Header.Get("Authorization") == "Bearer "+a.token {
			_, _ = w.Write([]byte(`{"valid":true,"user":` + user + `}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid":false}`))
	case auth.LoginPath:
		if !strings.Contains(readBody(r), `"password":"`+a.password+`"`) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"` + a.token + `","user":` + user + `}`))
	case auth.PasswordPath:
		if !strings.Contains(readBody(r), `"currentPassword":"`+a.password+`"`) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"Current password is incorrect"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"Password changed"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func readBody(r *http.Request) string {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r.Body)
	return buf.String()
}

type cliEnv struct {
	api   *testApi
	url   string
	store *session.MemoryStore
}

func newCliEnv(t *testing.T) *cliEnv {
	t.Helper()
	api := &testApi{
		email:    gofakeit.Email(),
		password: gofakeit.Password(true, true, true, false, false, 14),
		token:    gofakeit.UUID(),
	}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	return &cliEnv{
		api:   api,
		url:   server.URL,
		store: session.NewMemoryStore(),
	}
}

// run executes one CLI invocation. Every invocation gets a fresh manager
// over the same store, like separate processes sharing the session file.
func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	connect := func(context.Context) (SessionManager, func(), error) {
		client := apiclient.NewWithHTTPClient(e.url, &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
			Timeout:   2 * time.Second,
		})
		return auth.NewManager(e.store, client, nil), func() {}, nil
	}

	var out bytes.Buffer
	app := NewApp(connect, strings.NewReader(stdin), &out)
	err := NewRootCommand(app).Execute(&out, args)
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(NewApp(nil, strings.NewReader(""), &bytes.Buffer{}))

	assert.Equal(t, "console-cli", root.Name)
	for _, name := range []string{"login", "logout", "status", "passwd"} {
		assert.Contains(t, root.Subcommands, name)
	}
	assert.Len(t, root.Subcommands, 4)

	var out bytes.Buffer
	require.NoError(t, root.Execute(&out, nil))
	assert.Contains(t, out.String(), "Usage: console-cli")
	assert.Contains(t, out.String(), "passwd")

	err := root.Execute(&out, []string{"nope"})
	assert.EqualError(t, err, "unknown command: nope")
}

func TestCli_LoginStatusLogout(t *testing.T) {
	env := newCliEnv(t)

	out, err := env.run("", "status")
	require.NoError(t, err)
	assert.Equal(t, "not logged in (no_credentials)\n", out)

	out, err = env.run(env.api.password+"\n", "login", "-email", env.api.email)
	require.NoError(t, err)
	assert.Equal(t, "logged in as "+env.api.email+"\n", out)
	assert.Equal(t, env.api.token, env.store.Snapshot()[session.KeyToken])
	assert.Equal(t, "true", env.store.Snapshot()[session.KeyAdmin])

	out, err = env.run("", "status")
	require.NoError(t, err)
	assert.Equal(t, "logged in as "+env.api.email+"\n", out)

	out, err = env.run("", "status", "-json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"authenticated":true,"check":"verified","user":{"email":"`+env.api.email+`"}}`, out)

	// a valid session is kept
	out, err = env.run("", "login", "-email", env.api.email)
	require.NoError(t, err)
	assert.Equal(t, "already logged in as "+env.api.email+"\n", out)

	out, err = env.run("", "logout")
	require.NoError(t, err)
	assert.Equal(t, "logged out\n", out)
	assert.Empty(t, env.store.Snapshot())
}

func TestCli_Login_Rejected(t *testing.T) {
	env := newCliEnv(t)

	_, err := env.run("wrong-password\n", "login", "-email", env.api.email)
	assert.EqualError(t, err, "login: Invalid password")
	assert.Empty(t, env.store.Snapshot())

	_, err = env.run("", "login")
	assert.EqualError(t, err, "email is required")

	_, err = env.run("", "login", "-email", env.api.email)
	assert.Error(t, err)
}

func TestCli_Login_NoResponse(t *testing.T) {
	env := newCliEnv(t)
	server := httptest.NewServer(http.NotFoundHandler())
	env.url = server.URL
	server.Close()

	_, err := env.run("secret\n", "login", "-email", "a@b.com")
	assert.EqualError(t, err, "login: "+auth.MsgNetworkError)
}

func TestCli_Status_RevokedToken(t *testing.T) {
	env := newCliEnv(t)
	require.NoError(t, env.store.Set(context.Background(), session.KeyToken, "revoked"))
	require.NoError(t, env.store.Set(context.Background(), session.KeyAdmin, "true"))

	out, err := env.run("", "status")
	require.NoError(t, err)
	assert.Equal(t, "not logged in (verification_rejected)\n", out)
	assert.Empty(t, env.store.Snapshot())
}

func TestCli_Passwd(t *testing.T) {
	env := newCliEnv(t)

	_, err := env.run("", "passwd")
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	_, err = env.run(env.api.password+"\n", "login", "-email", env.api.email)
	require.NoError(t, err)

	out, err := env.run(env.api.password+"\nnew-secret\nnew-secret\n", "passwd")
	require.NoError(t, err)
	assert.Equal(t, "Password changed\n", out)

	_, err = env.run("wrong\nnew-secret\nnew-secret\n", "passwd")
	assert.EqualError(t, err, "passwd: Current password is incorrect")

	_, err = env.run(env.api.password+"\nnew-secret\nother\n", "passwd")
	assert.EqualError(t, err, "new password and confirmation do not match")

	// the session survives all of it
	assert.Equal(t, env.api.token, env.store.Snapshot()[session.KeyToken])
}

func TestCli_ConnectFailure(t *testing.T) {
	connect := func(context.Context) (SessionManager, func(), error) {
		return nil, nil, errors.New("redis down")
	}
	app := NewApp(connect, strings.NewReader(""), &bytes.Buffer{})
	err := NewRootCommand(app).Execute(&bytes.Buffer{}, []string{"logout"})
	assert.EqualError(t, err, "connect session store: redis down")
}
