package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/internal/middleware"
	"github.com/edufolio/adminconsole/internal/telemetry/metrics"
	"github.com/edufolio/adminconsole/internal/telemetry/tracing"
	"github.com/edufolio/adminconsole/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	LoginPath    = "/login"
	LogoutPath   = "/logout"
	PasswordPath = "/account/password"

	msgCredentialsRequired = "Email and password are required"
	msgNewPasswordRequired = "New password is required"
	msgPasswordsDoNotMatch = "New password and confirmation do not match"
	msgPasswordUpdated     = "Password updated"
	loginPageTitle         = "Sign in"
	passwordPageTitle      = "Change password"
	dashboardPageTitle     = "Dashboard"
)

// SessionManager is what the console needs from *auth.Manager.
type SessionManager interface {
	Session() auth.Session
	LoginInFlight() bool
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context)
	UpdatePassword(ctx context.Context, currentPassword, newPassword string) (json.RawMessage, error)
}

type Handler struct {
	manager     SessionManager
	landingPath string
}

func NewHandler(manager SessionManager, landingPath string) *Handler {
	if _, ok := middleware.SafeNext(landingPath); !ok {
		landingPath = "/"
	}
	return &Handler{
		manager:     manager,
		landingPath: landingPath,
	}
}

// SetupRoutes registers the console pages. The login submission is rate
// limited when rateLimiter is set.
func (handler *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	loginAllowedPerMin int,
	trustProxyHeaders bool,
	metricsManager *metrics.Manager,
) {
	guard := middleware.SessionGuard(handler.manager, LoginPath)

	mainRouter.HandleFunc("/healthz", handler.handleHealth).Methods("GET").Name("healthz")
	mainRouter.HandleFunc("/session", handler.handleSessionStatus).Methods("GET").Name("session")

	mainRouter.HandleFunc(LoginPath, handler.handleLoginForm).Methods("GET").Name("login-form")
	var login http.Handler = http.HandlerFunc(handler.handleLogin)
	if rateLimiter != nil {
		login = middleware.RateLimit(rateLimiter, "login", loginAllowedPerMin, trustProxyHeaders, metricsManager)(login)
	}
	mainRouter.Handle(LoginPath, login).Methods("POST").Name("login")
	mainRouter.HandleFunc(LogoutPath, handler.handleLogout).Methods("POST").Name("logout")

	mainRouter.Handle("/", guard(http.HandlerFunc(handler.handleDashboard))).Methods("GET").Name("dashboard")

	accountRouter := mainRouter.PathPrefix("/account").Subrouter()
	accountRouter.HandleFunc("/password", handler.handlePasswordForm).Methods("GET").Name("password-form")
	accountRouter.HandleFunc("/password", handler.handlePasswordUpdate).Methods("POST").Name("password")
	accountRouter.Use(guard)
}

func (handler *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "ok")
}

type sessionStatus struct {
	Loading       bool            `json:"loading"`
	Authenticated bool            `json:"authenticated"`
	User          json.RawMessage `json:"user"`
}

// handleSessionStatus never exposes the token.
func (handler *Handler) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	s := handler.manager.Session()
	status := sessionStatus{
		Loading:       s.Loading,
		Authenticated: s.IsAuthenticated,
	}
	if s.IsAuthenticated {
		status.User = s.User.Raw()
	}
	pkg.WriteJSON(w, http.StatusOK, status)
}

// destination is where a successful login continues to.
func (handler *Handler) destination(next string) string {
	if safe, ok := middleware.SafeNext(next); ok && safe != LoginPath {
		return safe
	}
	return handler.landingPath
}

func (handler *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get(middleware.NextParam)

	s := handler.manager.Session()
	if s.IsAuthenticated && !s.Loading {
		http.Redirect(w, r, handler.destination(next), http.StatusSeeOther)
		return
	}

	safeNext, _ := middleware.SafeNext(next)
	render(w, http.StatusOK, "login", loginPage{
		Title:    loginPageTitle,
		Next:     safeNext,
		InFlight: handler.manager.LoginInFlight(),
	})
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "consoleHandler.login")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		span.SetStatus(codes.Error, "parse-form")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	next, _ := middleware.SafeNext(r.PostForm.Get(middleware.NextParam))
	span.SetAttributes(attribute.String("login.email", email))

	page := loginPage{
		Title: loginPageTitle,
		Email: email,
		Next:  next,
	}

	if email == "" || password == "" {
		span.SetStatus(codes.Error, "missing-credentials")
		page.Error = msgCredentialsRequired
		render(w, http.StatusBadRequest, "login", page)
		return
	}

	if err := handler.manager.Login(ctx, email, password); err != nil {
		span.SetStatus(codes.Error, "login-failed")
		page.Error = auth.MessageFor(err)
		// the submit control is enabled again, unless another login is still pending
		page.InFlight = handler.manager.LoginInFlight()
		render(w, loginFailureStatus(err), "login", page)
		return
	}

	span.SetStatus(codes.Ok, "logged-in")
	// 303, so that going back does not resubmit or return to the form
	http.Redirect(w, r, handler.destination(next), http.StatusSeeOther)
}

func loginFailureStatus(err error) int {
	if errors.Is(err, auth.ErrLoginInProgress) {
		return http.StatusConflict
	}
	kind, ok := auth.KindOf(err)
	switch {
	case !ok:
		return http.StatusInternalServerError
	case kind == auth.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusUnauthorized
	}
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "consoleHandler.logout")
	defer span.End()

	handler.manager.Logout(ctx)
	log.Debugln("console logout")

	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (handler *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := handler.manager.Session().User
	if user == nil {
		user = &auth.User{}
	}
	render(w, http.StatusOK, "dashboard", dashboardPage{
		Title: dashboardPageTitle,
		User:  user,
	})
}

func (handler *Handler) handlePasswordForm(w http.ResponseWriter, _ *http.Request) {
	render(w, http.StatusOK, "password", passwordPage{Title: passwordPageTitle})
}

func (handler *Handler) handlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "consoleHandler.updatePassword")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		span.SetStatus(codes.Error, "parse-form")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	page := passwordPage{Title: passwordPageTitle}
	currentPassword := r.PostForm.Get("current_password")
	newPassword := r.PostForm.Get("new_password")

	if newPassword == "" {
		page.Error = msgNewPasswordRequired
		render(w, http.StatusBadRequest, "password", page)
		return
	}
	if newPassword != r.PostForm.Get("confirm_password") {
		page.Error = msgPasswordsDoNotMatch
		render(w, http.StatusBadRequest, "password", page)
		return
	}

	payload, err := handler.manager.UpdatePassword(ctx, currentPassword, newPassword)
	if err != nil {
		span.SetStatus(codes.Error, "update-failed")
		page.Error = auth.MessageFor(err)
		render(w, loginFailureStatus(err), "password", page)
		return
	}

	page.Success = successMessage(payload)
	span.SetStatus(codes.Ok, "updated")
	render(w, http.StatusOK, "password", page)
}

// successMessage uses the server's message when the payload carries one.
func successMessage(payload json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return msgPasswordUpdated
}
