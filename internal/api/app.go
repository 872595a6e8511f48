package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/server"
	"github.com/chatwire/chatwire/internal/store"
)

type App struct {
	log            *log.Logger
	db             store.Repository
	mux            *http.Server
	cs             *server.ChatServer
	validate       *validator.Validate
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db store.Repository, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		db:             db,
		cs:             cs,
		validate:       validator.New(),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.Handle("GET /api/memberships", s.authMiddleware(s.getUsersMemberships))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *App) generateShortId() (string, error) {
	sid, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate short id: %w", err)
	}

	return sid, nil
}
