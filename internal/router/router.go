// Package router wires the HTTP surface: the public auth/health routes
// and the JWT-protected /api/v1 resource groups, with the middleware
// stack (security headers, logging, CORS, metrics, per-route timeout
// and rate limit) applied the same way on every protected route.
package router

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB          handler.DBPinger
	ES          handler.DegradedReporter
	Version     string
	FrontendURL string

	Metrics    *middleware.Metrics
	MetricsReg *prometheus.Registry

	JWTSigningKey []byte
	Users         middleware.PasswordChangeLookup

	AuthService *service.AuthService

	KnowledgeDeps handler.KnowledgeDeps
	DocumentDeps  handler.DocumentDeps
	IngestDeps    handler.IngestDeps
	DocService    *service.DocumentService
	RobotDeps     handler.RobotDeps
	ChatDeps      handler.ChatDeps
	SessionDeps   handler.SessionDeps
	RecallDeps    handler.RecallDeps

	// RetrievalRateLimiter gates /robots/{id}/retrieval-test, 30/min/user.
	RetrievalRateLimiter *middleware.RateLimiter
}

// New creates and configures the chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Liveness, unauthenticated.
	r.Get("/health", handler.Health(deps.DB, deps.Version))
	r.Get("/health/es", handler.HealthES(deps.ES))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	auth := middleware.Auth(deps.JWTSigningKey, deps.Users)

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes.
		r.Post("/auth/register", handler.Register(deps.AuthService))
		r.Post("/auth/login", handler.Login(deps.AuthService))

		// Everything else requires a valid token.
		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Get("/auth/me", handler.Me(deps.AuthService))
			r.Post("/auth/refresh", handler.Refresh(deps.AuthService))

			r.Route("/knowledge", func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Post("/", handler.CreateKnowledge(deps.KnowledgeDeps))
				r.Get("/", handler.ListKnowledge(deps.KnowledgeDeps))
				r.Get("/{id}", handler.GetKnowledge(deps.KnowledgeDeps))
				r.Put("/{id}", handler.UpdateKnowledge(deps.KnowledgeDeps))
				r.Delete("/{id}", handler.DeleteKnowledge(deps.KnowledgeDeps))
			})

			r.Route("/documents", func(r chi.Router) {
				r.With(middleware.Timeout(120 * time.Second)).Post("/upload", handler.UploadDocument(deps.DocumentDeps))
				r.Post("/upload-url", handler.UploadURL(deps.DocService))
				r.Get("/", handler.ListDocuments(deps.DocumentDeps))
				r.Get("/{id}", handler.GetDocument(deps.DocumentDeps))
				r.Delete("/{id}", handler.DeleteDocument(deps.DocumentDeps))
				r.Post("/{id}/retry", handler.RetryDocument(deps.DocumentDeps))
				r.Post("/{id}/ingest", handler.IngestDocument(deps.IngestDeps))
				r.Get("/{id}/preview", handler.PreviewDocument(deps.DocumentDeps))
				r.Get("/{id}/thumb", handler.ThumbDocument(deps.DocumentDeps))
			})

			r.Route("/robots", func(r chi.Router) {
				r.Post("/", handler.CreateRobot(deps.RobotDeps))
				r.Get("/", handler.ListRobots(deps.RobotDeps))
				r.Get("/{id}", handler.GetRobot(deps.RobotDeps))
				rt := r.With(middleware.Timeout(60 * time.Second))
				if deps.RetrievalRateLimiter != nil {
					rt = rt.With(middleware.RateLimit(deps.RetrievalRateLimiter))
				}
				rt.Post("/{id}/retrieval-test", handler.RetrievalTest(deps.RobotDeps))
			})

			r.Route("/chat", func(r chi.Router) {
				r.With(middleware.Timeout(120 * time.Second)).Post("/ask", handler.Ask(deps.ChatDeps))
				// no per-route timeout on the SSE path; the handler owns
				// its own 300s stream deadline
				r.Post("/ask/stream", handler.AskStream(deps.ChatDeps))

				r.Post("/sessions", handler.CreateSession(deps.SessionDeps))
				r.Get("/sessions", handler.ListSessions(deps.SessionDeps))
				r.Get("/sessions/{sid}", handler.GetSession(deps.SessionDeps))
				r.Put("/sessions/{sid}", handler.UpdateSession(deps.SessionDeps))
				r.Delete("/sessions/{sid}", handler.DeleteSession(deps.SessionDeps))
				r.Get("/history/{sid}", handler.SessionHistory(deps.SessionDeps))
				r.Post("/feedback", handler.Feedback(deps.SessionDeps))
			})

			r.Route("/recall", func(r chi.Router) {
				r.Post("/test", handler.StartRecallTest(deps.RecallDeps))
				r.Get("/status/{taskId}", handler.RecallStatus(deps.RecallDeps))
			})
		})
	})

	return r
}
