package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edufolio/adminconsole/internal/session"
	"github.com/edufolio/adminconsole/internal/telemetry/metrics"
	"github.com/edufolio/adminconsole/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
)

// Manager owns the console session: its in-memory state, the persisted copy
// in the store, and the token bound to the API client. Nothing else writes
// to any of the three.
type Manager struct {
	store          session.Store
	client         Client
	metricsManager *metrics.Manager

	// applyMu serializes the writes to store, client and session;
	// API calls are made without holding it
	applyMu sync.Mutex
	// generation changes on every login and logout, so a slow startup
	// verification cannot overwrite a newer session
	generation uint64

	mu      sync.RWMutex
	session Session

	checkOnce     sync.Once
	ready         chan struct{}
	loginInFlight atomic.Bool
}

// NewManager returns a manager in the loading state; CheckAuth ends it.
// metricsManager may be nil.
func NewManager(store session.Store, client Client, metricsManager *metrics.Manager) *Manager {
	return &Manager{
		store:          store,
		client:         client,
		metricsManager: metricsManager,
		session:        Session{Loading: true},
		ready:          make(chan struct{}),
	}
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.clone()
}

func (m *Manager) setSession(s Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

// Ready is closed once the startup verification is over.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// LoginInFlight reports whether a Login call is waiting on the API.
func (m *Manager) LoginInFlight() bool {
	return m.loginInFlight.Load()
}

// CheckAuth verifies the persisted session against the API. Only the first
// call does anything; it never fails, it always ends with Loading false.
func (m *Manager) CheckAuth(ctx context.Context) CheckResult {
	result := CheckAlreadyDone
	m.checkOnce.Do(func() {
		defer close(m.ready)
		result = m.checkAuth(ctx)

		m.mu.Lock()
		m.session.Loading = false
		m.mu.Unlock()

		if m.metricsManager != nil {
			m.metricsManager.CounterCheckAuth.WithLabelValues(string(result)).Inc()
		}
		log.Infof("startup session check: %s", result)
	})
	return result
}

func (m *Manager) checkAuth(ctx context.Context) CheckResult {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authManager.checkAuth")
	defer span.End()

	m.applyMu.Lock()
	token, hasToken := m.store.Get(ctx, session.KeyToken)
	adminFlag, hasFlag := m.store.Get(ctx, session.KeyAdmin)
	if !hasToken || token == "" || !hasFlag || adminFlag != AdminFlagSentinel {
		m.applyMu.Unlock()
		span.SetAttributes(attribute.String("check.result", string(CheckNoCredentials)))
		return CheckNoCredentials
	}
	generation := m.generation
	m.client.Bind(token)
	m.applyMu.Unlock()

	var resp verifyResponse
	begin := time.Now()
	err := m.client.Do(ctx, http.MethodGet, VerifyPath, nil, &resp)
	m.observeApiCall(OpVerify, begin)

	var user *User
	if err == nil && resp.Valid {
		if user, err = ParseUser(resp.User); err != nil {
			err = &Error{Kind: KindVerificationRejected, Op: OpVerify, StatusCode: http.StatusOK, Err: err}
		}
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if m.generation != generation {
		// a login or logout happened meanwhile and already decided the session
		log.Warnln("startup session check superseded by a newer login/logout")
		return CheckAlreadyDone
	}

	switch {
	case err != nil:
		authErr := classify(OpVerify, KindVerificationRejected, err)
		span.SetStatus(codes.Error, authErr.Kind.String())
		span.RecordError(err)
		log.Warnf("startup session check failed, logging out: %s", authErr)
		m.logout(ctx)
		if authErr.Kind == KindTransport {
			return CheckTransportFailure
		}
		return CheckVerificationRejected
	case !resp.Valid:
		span.SetStatus(codes.Error, "token-invalid")
		log.Debugln("startup session check: server marked the token invalid, logging out")
		m.logout(ctx)
		return CheckVerificationRejected
	}

	m.setSession(Session{
		Token:           token,
		User:            user,
		IsAuthenticated: true,
		Loading:         true,
	})
	m.setAuthenticatedGauge(true)

	span.SetStatus(codes.Ok, "verified")
	return CheckVerified
}

// Login exchanges the credentials for a token. On success the token, the user
// record and the admin flag are persisted and the token is bound to the client.
// On failure nothing changes, and the error is returned as is.
// A Login called while another one waits on the API gets ErrLoginInProgress.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if !m.loginInFlight.CompareAndSwap(false, true) {
		m.countLogin("in_progress")
		return ErrLoginInProgress
	}
	defer m.loginInFlight.Store(false)

	ctx, span := tracing.GlobalTracer.Start(ctx, "authManager.login")
	defer span.End()

	var resp loginResponse
	begin := time.Now()
	err := m.client.Do(ctx, http.MethodPost, LoginPath, credentials{
		Email:    email,
		Password: password,
	}, &resp)
	m.observeApiCall(OpLogin, begin)
	if err != nil {
		authErr := classify(OpLogin, KindRejected, err)
		span.SetStatus(codes.Error, authErr.Kind.String())
		m.countLogin(authErr.Kind.String())
		log.Debugf("login failed: %s", authErr)
		return authErr
	}

	if resp.Token == "" {
		span.SetStatus(codes.Error, "no-token")
		m.countLogin(KindRejected.String())
		return &Error{Kind: KindRejected, Op: OpLogin, StatusCode: http.StatusOK, Err: errors.New("login response without token")}
	}
	user, err := ParseUser(resp.User)
	if err != nil {
		span.SetStatus(codes.Error, "bad-user")
		m.countLogin(KindRejected.String())
		return &Error{Kind: KindRejected, Op: OpLogin, StatusCode: http.StatusOK, Err: err}
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if err := m.persist(ctx, resp.Token, user); err != nil {
		span.SetStatus(codes.Error, "persist-failed")
		span.RecordError(err)
		m.countLogin("persist_failed")
		log.Errorf("login, persist session: %s", err)
		return err
	}

	m.client.Bind(resp.Token)
	m.generation++
	m.setSession(Session{
		Token:           resp.Token,
		User:            user,
		IsAuthenticated: true,
		Loading:         m.Session().Loading,
	})
	m.setAuthenticatedGauge(true)

	m.countLogin("success")
	span.SetStatus(codes.Ok, "logged-in")
	log.Infof("login success for [%s]", user.Email)

	return nil
}

// persist writes all three keys, or none: on a failed write the previous
// values are put back.
func (m *Manager) persist(ctx context.Context, token string, user *User) error {
	type previous struct {
		value   string
		present bool
	}
	prev := make(map[string]previous, len(session.Keys))
	for _, key := range session.Keys {
		v, ok := m.store.Get(ctx, key)
		prev[key] = previous{value: v, present: ok}
	}

	values := []struct{ key, value string }{
		{session.KeyToken, token},
		{session.KeyUser, string(user.Raw())},
		{session.KeyAdmin, AdminFlagSentinel},
	}
	for i, kv := range values {
		if err := m.store.Set(ctx, kv.key, kv.value); err != nil {
			var rollbackErr error
			for _, written := range values[:i] {
				p := prev[written.key]
				if p.present {
					rollbackErr = multierr.Append(rollbackErr, m.store.Set(ctx, written.key, p.value))
				} else {
					rollbackErr = multierr.Append(rollbackErr, m.store.Remove(ctx, written.key))
				}
			}
			if rollbackErr != nil {
				log.Errorf("persist session, rollback: %s", rollbackErr)
			}
			return err
		}
	}

	return nil
}

// Logout forgets the session everywhere. It cannot fail: store errors are
// logged, and the in-memory session is reset regardless.
func (m *Manager) Logout(ctx context.Context) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authManager.logout")
	defer span.End()

	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	m.logout(ctx)
}

// logout expects applyMu to be held.
func (m *Manager) logout(ctx context.Context) {
	var err error
	for _, key := range session.Keys {
		err = multierr.Append(err, m.store.Remove(ctx, key))
	}
	if err != nil {
		log.Errorf("logout, clear session store: %s", err)
	}

	m.client.Unbind()
	m.generation++
	m.setSession(Session{Loading: m.Session().Loading})
	m.setAuthenticatedGauge(false)

	if m.metricsManager != nil {
		m.metricsManager.CounterLogouts.Inc()
	}
}

// UpdatePassword changes the admin password using the bound token, and returns
// the server's response payload. The session is left as it is.
func (m *Manager) UpdatePassword(ctx context.Context, currentPassword, newPassword string) (json.RawMessage, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authManager.updatePassword")
	defer span.End()

	var payload json.RawMessage
	begin := time.Now()
	err := m.client.Do(ctx, http.MethodPut, PasswordPath, passwordUpdate{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	}, &payload)
	m.observeApiCall(OpUpdatePassword, begin)
	if err != nil {
		authErr := classify(OpUpdatePassword, KindRejected, err)
		span.SetStatus(codes.Error, authErr.Kind.String())
		m.countPasswordUpdate(authErr.Kind.String())
		return nil, authErr
	}

	m.countPasswordUpdate("success")
	span.SetStatus(codes.Ok, "updated")
	return payload, nil
}

func (m *Manager) observeApiCall(op string, begin time.Time) {
	if m.metricsManager == nil {
		return
	}
	m.metricsManager.HistogramApiCallDuration.WithLabelValues(op).Observe(time.Since(begin).Seconds())
}

func (m *Manager) countLogin(outcome string) {
	if m.metricsManager != nil {
		m.metricsManager.CounterLogins.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) countPasswordUpdate(outcome string) {
	if m.metricsManager != nil {
		m.metricsManager.CounterPasswordUpdates.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) setAuthenticatedGauge(authenticated bool) {
	if m.metricsManager == nil {
		return
	}
	if authenticated {
		m.metricsManager.GaugeAuthenticated.Set(1)
	} else {
		m.metricsManager.GaugeAuthenticated.Set(0)
	}
}
