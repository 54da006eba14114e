package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/symposium/internal/access"
	"github.com/npezzotti/symposium/internal/config"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/server"
	"github.com/teris-io/shortid"
)

type SymposiumApp struct {
	log            *log.Logger
	db             database.ChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	turns          server.TurnRunner
	allowlist      *access.Allowlist
	signingKey     []byte
	allowedOrigins []string
}

// NewSymposiumApp registers every route on mux and wraps it with CORS and
// panic recovery. turns may be nil, in which case the chat endpoint reports
// missing credentials.
func NewSymposiumApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, turns server.TurnRunner, cfg *config.Config) *SymposiumApp {
	s := &SymposiumApp{
		log:            logger,
		db:             db,
		cs:             cs,
		turns:          turns,
		allowlist:      access.New(cfg.AllowedEmails, cfg.AllowedDomains, cfg.DevMode),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/check", s.checkAccess)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("/api/account", s.authMiddleware(s.account))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.HandleFunc("GET /api/rooms/joined", s.authMiddleware(s.getJoinedRooms))
	mux.HandleFunc("GET /api/personas", s.authMiddleware(s.listPersonas))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.createMessage))
	mux.HandleFunc("POST /api/chat", s.authMiddleware(s.chat))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *SymposiumApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *SymposiumApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *SymposiumApp) generateShortId() (string, error) {
	return shortid.Generate()
}
