package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/bookshelf-be/internal/api/handlers"
	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/isdelr/bookshelf-be/internal/auth"
	"github.com/isdelr/bookshelf-be/internal/services"
	"github.com/isdelr/bookshelf-be/internal/websocket"
)

const (
	requestTimeout   = 10 * time.Second
	compressionLevel = 5
)

// requestMiddleware bounds and compresses regular API requests. The
// websocket route stays outside it because the connection outlives the request.
func requestMiddleware() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.Timeout(requestTimeout),
		middleware.Compress(compressionLevel),
	}
}

// Dependencies bundles what the router needs to build its handlers.
type Dependencies struct {
	Users          services.UserServiceProvider
	Auth           services.AuthServiceProvider
	Events         services.EventServiceProvider
	Tokens         *auth.TokenManager
	Revoker        auth.Revoker
	Hub            *websocket.Hub
	DB             handlers.Pinger
	Stats          handlers.StatsSource
	AllowedOrigins []string
	SecureCookies  bool
}

// NewRouter creates and configures a new Chi router.
func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperror.WriteJSON(w, r, apperror.NotFound("route not found"))
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(deps.Auth, deps.SecureCookies)
	userHandler := handlers.NewUserHandler(deps.Users)
	eventHandler := handlers.NewEventHandler(deps.Events)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.AllowedOrigins)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Stats)

	requireAuth := auth.Middleware(deps.Tokens, deps.Revoker)

	r.With(requestMiddleware()...).Get("/health", healthHandler.Check)

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket connection endpoint
		r.With(requireAuth).Get("/ws", wsHandler.Serve)

		r.Group(func(r chi.Router) {
			r.Use(requestMiddleware()...)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/signup", authHandler.SignUp)
				r.Post("/signin", authHandler.SignIn)
				if deps.Auth.RevocationEnabled() {
					r.With(requireAuth).Post("/signout", authHandler.SignOut)
				}
			})

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				r.Get("/events", eventHandler.GetRecent)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", userHandler.List)
					r.Post("/", userHandler.Create)
					r.Get("/me", userHandler.GetMe)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", userHandler.Get)
						r.Put("/", userHandler.Update)
						r.Delete("/", userHandler.Delete)
					})
				})
			})
		})
	})

	return r
}
