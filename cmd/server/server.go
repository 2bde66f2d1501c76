package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/auth"
	"gitlab.com/audioparty/backend/internal/config"
	"gitlab.com/audioparty/backend/internal/db"
	"gitlab.com/audioparty/backend/internal/history"
	"gitlab.com/audioparty/backend/internal/signaling"
	"gitlab.com/audioparty/backend/pkg/handlers"
)

type Server struct {
	cfg              *config.Config
	db               *db.DB
	signalingService *signaling.Service
	historyStore     *history.Store
	adminAuth        *auth.Service
	iceHandler       *handlers.IceHandler
	identifyHandler  *handlers.IdentifyHandler
	upgrader         *websocket.Upgrader
	log              *logrus.Entry
}

// NewServer wires the HTTP surface. historyStore and archiver may be nil.
func NewServer(cfg *config.Config, database *db.DB, signalingService *signaling.Service, historyStore *history.Store, archiver handlers.Archiver) *Server {
	return &Server{
		cfg:              cfg,
		db:               database,
		signalingService: signalingService,
		historyStore:     historyStore,
		adminAuth:        auth.NewService(cfg.AdminUser, cfg.AdminPasswordHash),
		iceHandler:       handlers.NewIceHandler(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		identifyHandler:  handlers.NewIdentifyHandler(cfg.IdentifyURL, cfg.IdentifyMaxSize, archiver),
		upgrader:         signaling.NewUpgrader(cfg.AllowedOrigins),
		log:              logrus.WithField("component", "http"),
	}
}

func (s *Server) setupRouter() *mux.Router {
	router := mux.NewRouter()

	router.Use(corsMiddleware(s.cfg.AllowedOrigins))

	// Handle OPTIONS preflight requests for all routes
	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Health check
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Signaling WebSocket
	router.HandleFunc("/ws", s.signalingService.ServeWS(s.upgrader)).Methods("GET")

	// Share link validation
	router.HandleFunc("/api/rooms/{code}", s.handleGetRoom).Methods("GET")

	// ICE servers (for WebRTC)
	router.HandleFunc("/api/ice-servers", s.iceHandler.GetIceServers).Methods("GET")

	// Song recognition proxy
	router.HandleFunc("/api/identify-song", s.identifyHandler.IdentifySong).Methods("POST")

	// Admin routes (basic auth)
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.adminAuth.Middleware)
	admin.HandleFunc("/sessions", s.handleAdminSessions).Methods("GET")
	admin.HandleFunc("/end-session", s.handleAdminEndSession).Methods("POST")
	admin.HandleFunc("/history", s.handleAdminHistory).Methods("GET")

	return router
}

// Middleware

func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
