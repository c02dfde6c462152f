package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/feed"
	"tourneyaudit-server-go/internal/metrics"
	"tourneyaudit-server-go/internal/store"
)

// FeedService is the audit query surface served over HTTP.
type FeedService interface {
	GetEntityTimeline(ctx context.Context, t audit.EntityType, id int64, cursor *int64, limit int) (feed.TimelinePage, error)
	GetEventFeed(ctx context.Context, f feed.EventFilter, cursor *time.Time, limit int) (feed.EventPage, error)
	GetEventDetails(ctx context.Context, q feed.DetailsQuery) (feed.DetailsPage, error)
	SearchAudits(ctx context.Context, f feed.SearchFilter, cursor *int64, limit int) (feed.SearchPage, error)
	ListAdminUsers(ctx context.Context) ([]audit.UserRef, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Feed           FeedService
	DB             Pinger
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
	Log            *zap.SugaredLogger
	// Metrics and Monitor are optional.
	Metrics     *metrics.Registry
	MetricsPath string
	Monitor     *metrics.Monitor
}

type App struct {
	feed           FeedService
	db             Pinger
	jwtSecret      []byte
	allowedOrigins map[string]struct{}
	allowAll       bool
	requestTimeout time.Duration
	log            *zap.SugaredLogger
	metrics        *metrics.Registry
	metricsPath    string
	monitor        *metrics.Monitor
	httpRouter     http.Handler
}

type userClaims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

const (
	ctxKeyUser ctxKey = iota
)

func New(cfg Config) (*App, error) {
	if cfg.Feed == nil {
		return nil, errors.New("feed service is required")
	}
	if cfg.DB == nil {
		return nil, errors.New("db is required")
	}
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	a := &App{
		feed:           cfg.Feed,
		db:             cfg.DB,
		jwtSecret:      []byte(secret),
		allowedOrigins: map[string]struct{}{},
		requestTimeout: cfg.RequestTimeout,
		log:            cfg.Log,
		metrics:        cfg.Metrics,
		metricsPath:    cfg.MetricsPath,
		monitor:        cfg.Monitor,
	}
	for _, o := range cfg.AllowedOrigins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			a.allowAll = true
		default:
			a.allowedOrigins[o] = struct{}{}
		}
	}
	if len(a.allowedOrigins) == 0 {
		a.allowAll = true
	}
	a.httpRouter = a.buildRouter()
	return a, nil
}

func (a *App) Router() http.Handler {
	return a.httpRouter
}

func (a *App) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	if a.metrics != nil {
		r.Use(a.metrics.Middleware)
	}
	r.Use(a.cors)

	r.Get("/health", a.handleHealth)
	if a.metrics != nil {
		r.Handle(a.metricsPath, a.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if a.requestTimeout > 0 {
			r.Use(middleware.Timeout(a.requestTimeout))
		}
		r.Use(a.authenticateToken, a.authorizeAdmin)

		r.Get("/system/status", a.handleSystemStatus)

		r.Route("/audit", func(r chi.Router) {
			r.Use(a.shedUnderMemoryPressure)
			r.Get("/events", a.handleEventFeed)
			r.Get("/events/details", a.handleEventDetails)
			r.Get("/search", a.handleSearch)
			r.Get("/admins", a.handleAdmins)
			r.Get("/{entityType}/{id}/timeline", a.handleTimeline)
		})
	})

	return otelhttp.NewHandler(r, "tourneyaudit.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (a *App) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case a.allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := a.allowedOrigins[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) authenticateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		claims := &userClaims{}
		tok, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return a.jwtSecret, nil
		})
		if err != nil || !tok.Valid {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUser, *claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) authorizeAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := a.currentUser(r)
		if !ok || u.Role != "ADMIN" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) currentUser(r *http.Request) (userClaims, bool) {
	v := r.Context().Value(ctxKeyUser)
	if v == nil {
		return userClaims{}, false
	}
	u, ok := v.(userClaims)
	return u, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes. Details of internal
// failures stay in the log.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidFilter):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, store.ErrStoreUnavailable):
		a.log.Warnw("store unavailable", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "audit store unavailable"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "request timed out"})
	default:
		a.log.Errorw("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
	}
}
