package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/edufolio/adminconsole/internal/apiclient"
	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/internal/session"
	"github.com/edufolio/adminconsole/internal/telemetry/metrics"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testApi answers the EduFolio admin endpoints with fixed responses.
type testApi struct {
	verifyStatus   int
	verifyBody     string
	loginStatus    int
	loginBody      string
	passwordStatus int
	passwordBody   string
}

func (a *testApi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusNotFound, `{}`
	switch r.URL.Path {
	case auth.VerifyPath:
		status, body = a.verifyStatus, a.verifyBody
	case auth.LoginPath:
		status, body = a.loginStatus, a.loginBody
	case auth.PasswordPath:
		status, body = a.passwordStatus, a.passwordBody
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type consoleEnv struct {
	store   *session.MemoryStore
	client  *apiclient.Client
	manager *auth.Manager
	router  *mux.Router
}

func newConsoleEnv(t *testing.T, api *testApi) *consoleEnv {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return newConsoleEnvWithURL(t, server.URL)
}

func newConsoleEnvWithURL(t *testing.T, apiURL string) *consoleEnv {
	t.Helper()
	store := session.NewMemoryStore()
	client := apiclient.NewWithHTTPClient(apiURL, &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   2 * time.Second,
	})
	manager := auth.NewManager(store, client, nil)

	r := mux.NewRouter()
	NewHandler(manager, "/").SetupRoutes(r, nil, 0, false, nil)

	return &consoleEnv{
		store:   store,
		client:  client,
		manager: manager,
		router:  r,
	}
}

func (e *consoleEnv) login(t *testing.T) {
	t.Helper()
	e.manager.CheckAuth(context.Background())
	require.NoError(t, e.manager.Login(context.Background(), "a@b.com", "secret"))
}

func (e *consoleEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestHandler_GuardedPages(t *testing.T) {
	env := newConsoleEnv(t, &testApi{
		loginStatus: http.StatusOK,
		loginBody:   `{"token":"xyz","user":{"email":"a@b.com","name":"Ada"}}`,
	})

	// startup check still running
	rr := env.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))

	env.manager.CheckAuth(context.Background())

	rr = env.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next=%2F", rr.Header().Get("Location"))

	rr = env.do(http.MethodGet, "/account/password", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next=%2Faccount%2Fpassword", rr.Header().Get("Location"))

	require.NoError(t, env.manager.Login(context.Background(), "a@b.com", "secret"))

	rr = env.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Welcome, Ada")
	assert.Contains(t, rr.Body.String(), "a@b.com")
}

func TestHandler_LoginForm(t *testing.T) {
	env := newConsoleEnv(t, &testApi{})
	env.manager.CheckAuth(context.Background())

	rr := env.do(http.MethodGet, "/login?next=%2Faccount%2Fpassword", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `name="next" value="/account/password"`)
	assert.Contains(t, body, `<button type="submit">Sign in</button>`)
	assert.NotContains(t, body, `class="error"`)

	// foreign destinations are not remembered
	rr = env.do(http.MethodGet, "/login?next=https%3A%2F%2Fevil.com", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="next" value=""`)
}

func TestHandler_LoginForm_AlreadyAuthenticated(t *testing.T) {
	env := newConsoleEnv(t, &testApi{
		loginStatus: http.StatusOK,
		loginBody:   `{"token":"xyz","user":{"email":"a@b.com"}}`,
	})
	env.login(t)

	rr := env.do(http.MethodGet, "/login?next=%2Faccount%2Fpassword", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/account/password", rr.Header().Get("Location"))
}

func TestHandler_Login(t *testing.T) {
	testCases := []struct {
		name             string
		form             url.Values
		expectedLocation string
	}{
		{
			name:             "to landing page",
			form:             url.Values{"email": {"a@b.com"}, "password": {"secret"}},
			expectedLocation: "/",
		},
		{
			name:             "to remembered destination",
			form:             url.Values{"email": {"a@b.com"}, "password": {"secret"}, "next": {"/account/password"}},
			expectedLocation: "/account/password",
		},
		{
			name:             "foreign destination ignored",
			form:             url.Values{"email": {"a@b.com"}, "password": {"secret"}, "next": {"//evil.com"}},
			expectedLocation: "/",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newConsoleEnv(t, &testApi{
				loginStatus: http.StatusOK,
				loginBody:   `{"token":"xyz","user":{"email":"a@b.com"}}`,
			})
			env.manager.CheckAuth(context.Background())

			rr := env.do(http.MethodPost, "/login", tc.form)
			assert.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, tc.expectedLocation, rr.Header().Get("Location"))

			assert.True(t, env.manager.Session().IsAuthenticated)
			assert.Equal(t, "xyz", env.store.Snapshot()[session.KeyToken])
			assert.Equal(t, "true", env.store.Snapshot()[session.KeyAdmin])
		})
	}
}

func TestHandler_Login_Failures(t *testing.T) {
	testCases := []struct {
		name               string
		api                *testApi
		form               url.Values
		expectedStatusCode int
		expectedMessage    string
	}{
		{
			name:               "server message shown verbatim",
			api:                &testApi{loginStatus: http.StatusUnauthorized, loginBody: `{"message":"Invalid password"}`},
			form:               url.Values{"email": {"a@b.com"}, "password": {"wrong"}},
			expectedStatusCode: http.StatusUnauthorized,
			expectedMessage:    "Invalid password",
		},
		{
			name:               "response without message",
			api:                &testApi{loginStatus: http.StatusInternalServerError, loginBody: ``},
			form:               url.Values{"email": {"a@b.com"}, "password": {"wrong"}},
			expectedStatusCode: http.StatusUnauthorized,
			expectedMessage:    auth.MsgAuthenticationFailed,
		},
		{
			name:               "missing password",
			api:                &testApi{},
			form:               url.Values{"email": {"a@b.com"}},
			expectedStatusCode: http.StatusBadRequest,
			expectedMessage:    msgCredentialsRequired,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newConsoleEnv(t, tc.api)
			env.manager.CheckAuth(context.Background())

			rr := env.do(http.MethodPost, "/login", tc.form)
			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			body := rr.Body.String()
			assert.Contains(t, body, `<p class="error" role="alert">`+tc.expectedMessage+`</p>`)
			// entered email kept, submit control enabled again
			assert.Contains(t, body, `value="a@b.com"`)
			assert.Contains(t, body, `<button type="submit">Sign in</button>`)

			assert.False(t, env.manager.Session().IsAuthenticated)
			assert.Empty(t, env.store.Snapshot())
		})
	}
}

func TestHandler_Login_NoResponse(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	apiURL := server.URL
	server.Close()

	env := newConsoleEnvWithURL(t, apiURL)
	env.manager.CheckAuth(context.Background())

	rr := env.do(http.MethodPost, "/login", url.Values{"email": {"a@b.com"}, "password": {"secret"}})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), auth.MsgNetworkError)
	assert.NotContains(t, rr.Body.String(), auth.MsgAuthenticationFailed)
}

func TestHandler_Login_RateLimited(t *testing.T) {
	env := newConsoleEnv(t, &testApi{loginStatus: http.StatusUnauthorized, loginBody: `{"message":"Invalid password"}`})
	env.manager.CheckAuth(context.Background())

	metricsManager := metrics.NewTestManager()
	limiter := &testRateLimiter{remaining: 1}
	r := mux.NewRouter()
	NewHandler(env.manager, "/").SetupRoutes(r, limiter, 1, false, metricsManager)
	env.router = r

	form := url.Values{"email": {gofakeit.Email()}, "password": {gofakeit.Password(true, true, true, false, false, 10)}}
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/login", form).Code)

	rr := env.do(http.MethodPost, "/login", form)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRateLimitedRequests))

	// the form itself is not limited
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/login", nil).Code)
}

type testRateLimiter struct {
	remaining int
}

func (l *testRateLimiter) Allow(_ context.Context, _ string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	res := &redis_rate.Result{Limit: limit, RetryAfter: time.Minute}
	if l.remaining > 0 {
		l.remaining--
		res.Allowed = 1
	}
	return res, nil
}

func TestHandler_Logout(t *testing.T) {
	env := newConsoleEnv(t, &testApi{
		loginStatus: http.StatusOK,
		loginBody:   `{"token":"xyz","user":{"email":"a@b.com"}}`,
	})
	env.login(t)

	rr := env.do(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	assert.False(t, env.manager.Session().IsAuthenticated)
	assert.Empty(t, env.store.Snapshot())
	_, bound := env.client.Authorization()
	assert.False(t, bound)

	// logout is not reachable with GET
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/logout", nil).Code)
}

func TestHandler_PasswordUpdate(t *testing.T) {
	testCases := []struct {
		name               string
		api                *testApi
		form               url.Values
		expectedStatusCode int
		expectedText       string
	}{
		{
			name: "updated",
			api: &testApi{
				loginStatus: http.StatusOK, loginBody: `{"token":"xyz","user":{"email":"a@b.com"}}`,
				passwordStatus: http.StatusOK, passwordBody: `{"message":"Password changed"}`,
			},
			form:               url.Values{"current_password": {"old"}, "new_password": {"new"}, "confirm_password": {"new"}},
			expectedStatusCode: http.StatusOK,
			expectedText:       `<p class="success">Password changed</p>`,
		},
		{
			name: "updated, payload without message",
			api: &testApi{
				loginStatus: http.StatusOK, loginBody: `{"token":"xyz","user":{"email":"a@b.com"}}`,
				passwordStatus: http.StatusNoContent, passwordBody: ``,
			},
			form:               url.Values{"current_password": {"old"}, "new_password": {"new"}, "confirm_password": {"new"}},
			expectedStatusCode: http.StatusOK,
			expectedText:       `<p class="success">` + msgPasswordUpdated + `</p>`,
		},
		{
			name: "rejected",
			api: &testApi{
				loginStatus: http.StatusOK, loginBody: `{"token":"xyz","user":{"email":"a@b.com"}}`,
				passwordStatus: http.StatusBadRequest, passwordBody: `{"message":"Current password is incorrect"}`,
			},
			form:               url.Values{"current_password": {"bad"}, "new_password": {"new"}, "confirm_password": {"new"}},
			expectedStatusCode: http.StatusUnauthorized,
			expectedText:       "Current password is incorrect",
		},
		{
			name: "confirmation mismatch",
			api: &testApi{
				loginStatus: http.StatusOK, loginBody: `{"token":"xyz","user":{"email":"a@b.com"}}`,
			},
			form:               url.Values{"current_password": {"old"}, "new_password": {"new"}, "confirm_password": {"other"}},
			expectedStatusCode: http.StatusBadRequest,
			expectedText:       msgPasswordsDoNotMatch,
		},
		{
			name: "empty new password",
			api: &testApi{
				loginStatus: http.StatusOK, loginBody: `{"token":"xyz","user":{"email":"a@b.com"}}`,
			},
			form:               url.Values{"current_password": {"old"}},
			expectedStatusCode: http.StatusBadRequest,
			expectedText:       msgNewPasswordRequired,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newConsoleEnv(t, tc.api)
			env.login(t)

			rr := env.do(http.MethodPost, "/account/password", tc.form)
			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.expectedText)

			// the session is never touched by a password update
			assert.True(t, env.manager.Session().IsAuthenticated)
			assert.Equal(t, "xyz", env.store.Snapshot()[session.KeyToken])
		})
	}
}

func TestHandler_SessionStatus(t *testing.T) {
	env := newConsoleEnv(t, &testApi{
		loginStatus: http.StatusOK,
		loginBody:   `{"token":"xyz","user":{"email":"a@b.com"}}`,
	})

	rr := env.do(http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"loading":true,"authenticated":false,"user":null}`, rr.Body.String())

	env.login(t)

	rr = env.do(http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"loading":false,"authenticated":true,"user":{"email":"a@b.com"}}`, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "xyz")

	var status sessionStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.Authenticated)
}

func TestHandler_Health(t *testing.T) {
	env := newConsoleEnv(t, &testApi{})
	rr := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

// pendingManager is a SessionManager with a login stuck in flight.
type pendingManager struct{}

func (*pendingManager) Session() auth.Session { return auth.Session{} }
func (*pendingManager) LoginInFlight() bool   { return true }
func (*pendingManager) Login(context.Context, string, string) error {
	return auth.ErrLoginInProgress
}
func (*pendingManager) Logout(context.Context) {}
func (*pendingManager) UpdatePassword(context.Context, string, string) (json.RawMessage, error) {
	return nil, nil
}

func TestHandler_LoginInFlight(t *testing.T) {
	r := mux.NewRouter()
	NewHandler(&pendingManager{}, "/").SetupRoutes(r, nil, 0, false, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<button type="submit" disabled>`)

	form := url.Values{"email": {"a@b.com"}, "password": {"secret"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), auth.MsgLoginInProgress)
}

func TestNewHandler_UnsafeLandingPath(t *testing.T) {
	h := NewHandler(&pendingManager{}, "https://evil.com")
	assert.Equal(t, "/", h.landingPath)
	assert.Equal(t, "/account/password", h.destination("/account/password"))
	assert.Equal(t, "/", h.destination("/login"))
}
