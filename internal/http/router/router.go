package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stayforge/identity-service/internal/http/handler"
	"github.com/stayforge/identity-service/internal/http/middleware"
	"github.com/stayforge/identity-service/internal/http/response"
	"github.com/stayforge/identity-service/internal/service"
)

const maxBodyBytes = 1 << 20

// Options carries the per-deployment knobs the router cares about. Rate
// limits are per-minute; zero keeps the limiter's defaults.
type Options struct {
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	TraceHTTP        bool
}

// New assembles the full HTTP surface. The auth endpoints sit behind a
// tighter rate limit than the rest of the API because they are the ones an
// attacker hammers.
func New(auth service.Authenticator, opts Options) http.Handler {
	authHandler := handler.NewAuthHandler(auth)

	apiLimiter := middleware.NewRateLimiter(opts.APIRateLimitRPM, time.Minute, "api")
	authLimiter := middleware.NewRateLimiter(opts.AuthRateLimitRPM, time.Minute, "auth")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(maxBodyBytes))

	r.Get("/health/live", func(w http.ResponseWriter, req *http.Request) {
		response.JSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(apiLimiter.Middleware())

		api.Route("/auth", func(ar chi.Router) {
			ar.Use(authLimiter.Middleware())
			ar.Post("/register", authHandler.Register)
			ar.Post("/login", authHandler.LocalLogin)
			ar.Post("/ldap/login", authHandler.DirectoryLogin)
			ar.Post("/refresh", authHandler.Refresh)

			ar.Group(func(protected chi.Router) {
				protected.Use(middleware.AuthMiddleware(auth))
				protected.Post("/logout", authHandler.Logout)
				protected.Post("/logout-all", authHandler.LogoutAll)
			})
		})

		api.Route("/me", func(me chi.Router) {
			me.Use(middleware.AuthMiddleware(auth))
			me.Get("/sessions", authHandler.Sessions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	if opts.TraceHTTP {
		return otelhttp.NewHandler(r, "identity-service")
	}
	return r
}
