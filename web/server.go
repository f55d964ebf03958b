package web

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"postalgic/models"
	"postalgic/publish"
	"postalgic/web/api"
)

// Deps are the services the web layer serves.
type Deps struct {
	Store  *models.Store
	Orch   *publish.Orchestrator
	Tokens *Tokens
}

// NewServer creates and configures the RWeb server
func NewServer(opts rweb.ServerOptions, deps Deps) *rweb.Server {
	s := rweb.NewServer(opts)

	s.Use(rweb.RequestInfo)
	s.Use(CorsMiddleware)
	s.Use(SecurityHeadersMiddleware)
	s.Use(RateLimitMiddleware(600))
	s.Use(JWTAuthMiddleware(deps.Tokens))
	s.Use(LoggingMiddleware)

	// Server-Sent Events for sync progress
	events := NewEventHub(64)

	syncAPI := &api.SyncAPI{Store: deps.Store, Orch: deps.Orch, Notify: events.Publish}
	setupRoutes(s, syncAPI)
	SetupStaticFiles(s)

	s.Get("/events", func(c rweb.Context) error {
		logger.Info("SSE connection established", "subscribers", events.Subscribers()+1)
		return s.SetupSSE(c, events.Subscribe())
	})

	return s
}

// Run starts the server
func Run(s *rweb.Server, address string) error {
	logger.Info("Postalgic server starting", "address", address)
	return s.Run()
}
