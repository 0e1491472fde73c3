package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/edufolio/adminconsole/internal/apiclient"
	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/internal/config"
	"github.com/edufolio/adminconsole/internal/console"
	"github.com/edufolio/adminconsole/internal/middleware"
	"github.com/edufolio/adminconsole/internal/session"
	"github.com/edufolio/adminconsole/internal/telemetry/metrics"
	"github.com/edufolio/adminconsole/internal/telemetry/tracing"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

const serviceName = "edufolio-admin-console"

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server

	config         *config.Config
	backends       *Backends
	apiClient      *apiclient.Client
	sessionManager *auth.Manager

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	RedisPassword           string
	PostgresPassword        string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	backends, err := OpenBackends(ctx, params.Config, BackendsParams{
		RedisPassword:    params.RedisPassword,
		PostgresPassword: params.PostgresPassword,
		TracingEnabled:   params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, err
	}

	var collectors []prometheus.Collector
	if backends.DBPool != nil {
		collectors = append(collectors, pgxpoolprometheus.NewCollector(
			backends.DBPool,
			map[string]string{"db_name": params.Config.PostgresDBName},
		))
	}
	promRegistry := metrics.SetupPrometheus(collectors...)
	metricsManager := metrics.NewManager("console", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, serviceName, backends.Redis)
	if err != nil {
		backends.Close()
		return nil, err
	}

	store, err := session.NewStore(ctx, params.Config, backends.Session())
	if err != nil {
		otelShutdown()
		backends.Close()
		return nil, fmt.Errorf("new session store: %w", err)
	}

	apiClient := apiclient.New(params.Config.ApiBaseURL, params.Config.ApiTimeout())

	return &Server{
		config:         params.Config,
		backends:       backends,
		apiClient:      apiClient,
		sessionManager: auth.NewManager(store, apiClient, metricsManager),
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) SessionManager() *auth.Manager {
	return s.sessionManager
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("console-router"))

	var rateLimiter middleware.RequestRateLimiter
	if s.backends != nil && s.backends.Redis != nil {
		rateLimiter = redis_rate.NewLimiter(s.backends.Redis)
	} else {
		log.Debugln("no redis configured, login rate limiting disabled")
	}

	consoleHandler := console.NewHandler(s.sessionManager, s.config.DefaultLandingPath)
	consoleHandler.SetupRoutes(
		r,
		rateLimiter,
		s.config.LoginRateLimitAllowedPerMin,
		s.config.TrustProxyHeaders,
		s.metricsManager,
	)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.LimitAndDrainRequest(middleware.MaxFormBodyBytes))

	return r
}

// Serve starts the console and metrics servers, and the startup session
// check. The guarded pages show a waiting page until the check is done.
func (s *Server) Serve(ctx context.Context, host string, port int) {
	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      s.routerSetup(),
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > console listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("console, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	go func() {
		result := s.sessionManager.CheckAuth(ctx)
		log.Debugf("startup session check done: %s", result)
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.backends != nil {
		s.backends.Close()
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}
