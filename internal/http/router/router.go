package router

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/session-guard/internal/health"
	"github.com/sandeepkv93/session-guard/internal/http/handler"
	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/response"
)

type ReadinessProbe interface {
	Ready(ctx context.Context) (bool, []health.CheckResult)
}

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	Readiness        ReadinessProbe
	CORSOrigins      []string
	AuthRateLimitRPM int
	BodyLimitBytes   int64
	EnableOTelHTTP   bool
	// RefreshPath must equal the refresh cookie path. Logout is served below
	// it so the browser sends the refresh cookie there too.
	RefreshPath string
}

const defaultRefreshPath = "/api/v1/auth/refresh"

func NewRouter(dep Dependencies) http.Handler {
	refreshPath := strings.TrimRight(dep.RefreshPath, "/")
	if refreshPath == "" {
		refreshPath = defaultRefreshPath
	}
	bodyLimit := dep.BodyLimitBytes
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(bodyLimit))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyFailed, "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.IPRateLimit("auth", dep.AuthRateLimitRPM))
		r.Post("/api/v1/auth/login", dep.AuthHandler.Login)
		r.Post(refreshPath, dep.AuthHandler.Refresh)
		r.Post(refreshPath+"/logout", dep.AuthHandler.Logout)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
