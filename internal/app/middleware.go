package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-books/internal/observability"
	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// Tenant headers set by the upstream gateway.
const (
	HeaderOrganization = "X-Organization-ID"
	HeaderActor        = "X-Actor-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the Odyssey middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.AppRateLimit > 0 {
		limit = cfg.Config.AppRateLimit
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		cors.Handler(corsOptions(cfg.Config)),
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP, keyByOrganization)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// corsOptions allows the configured origins only. Without APP_CORS_ORIGINS
// every cross-origin request is refused.
func corsOptions(cfg *Config) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderOrganization, HeaderActor, "Idempotency-Key"},
		MaxAge:         300,
	}
	if cfg != nil && len(cfg.AppCORSOrigins) > 0 {
		opts.AllowedOrigins = cfg.AppCORSOrigins
		return opts
	}
	opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	return opts
}

func keyByOrganization(r *http.Request) (string, error) {
	return r.Header.Get(HeaderOrganization), nil
}

// Tenant reads the organization and actor headers into the request context.
// Requests without a positive organization id are rejected.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderOrganization)), 10, 64)
		if err != nil || orgID <= 0 {
			httpx.WriteProblem(w, httpx.ProblemDetail{
				Title:  "Validation Failed",
				Status: http.StatusBadRequest,
				Detail: HeaderOrganization + " header must be a positive integer",
				Kind:   "validation_error",
				Field:  "organizationId",
			})
			return
		}
		ctx := shared.ContextWithOrganization(r.Context(), orgID)
		if raw := strings.TrimSpace(r.Header.Get(HeaderActor)); raw != "" {
			actorID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || actorID < 0 {
				httpx.WriteProblem(w, httpx.ProblemDetail{
					Title:  "Validation Failed",
					Status: http.StatusBadRequest,
					Detail: HeaderActor + " header must be a non-negative integer",
					Kind:   "validation_error",
					Field:  "actorId",
				})
				return
			}
			ctx = shared.ContextWithActor(ctx, actorID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
