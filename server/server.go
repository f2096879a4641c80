package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openanchor/anchorsvc/pkg/log"
	"github.com/openanchor/anchorsvc/storage"
)

// Config gathers everything NewServer needs to assemble the router
// beyond the already-built State.
type Config struct {
	Registry  *prometheus.Registry
	Pages     storage.PageStore
	Now       func() time.Time
	Logger    log.Logger
	LogWriter io.Writer
}

// Server is the anchor service's HTTP surface: a gorilla/mux router
// wrapped in the security-header, recovery and access-log middleware
// every response must carry.
type Server struct {
	state   *State
	handler http.Handler
}

// ServeHTTP makes Server an http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.handler.ServeHTTP(w, r)
}

// NewServer builds the router for state, registering one route per
// wire API operation over a mux.Router.
func NewServer(cfg Config, state *State) (*Server, error) {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	r.NotFoundHandler = http.NotFoundHandler()

	srv := &Server{state: state}

	handle := func(path string, h http.HandlerFunc) {
		r.HandleFunc(path, h)
	}

	handle("/", handleIndex)
	handle("/about", handleAbout)

	r.HandleFunc("/api/challenge", srv.handleCreateChallenge).Methods(http.MethodPost)
	r.HandleFunc("/api/register", srv.handleRegister).Methods(http.MethodPost)

	r.HandleFunc("/api/anchor/{anchor}/devices", srv.handleAddDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/anchor/{anchor}/devices", srv.handleLookup).Methods(http.MethodGet)
	r.HandleFunc("/api/anchor/{anchor}/devices/{pubkey}", srv.handleUpdateDevice).Methods(http.MethodPut)
	r.HandleFunc("/api/anchor/{anchor}/devices/{pubkey}", srv.handleRemoveDevice).Methods(http.MethodDelete)

	r.HandleFunc("/api/anchor/{anchor}", srv.handleGetAnchorInfo).Methods(http.MethodGet)

	r.HandleFunc("/api/anchor/{anchor}/registration", srv.handleEnterDeviceRegistrationMode).Methods(http.MethodPost)
	r.HandleFunc("/api/anchor/{anchor}/registration", srv.handleExitDeviceRegistrationMode).Methods(http.MethodDelete)
	r.HandleFunc("/api/anchor/{anchor}/registration/tentative", srv.handleAddTentativeDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/anchor/{anchor}/registration/verify", srv.handleVerifyTentativeDevice).Methods(http.MethodPost)

	r.HandleFunc("/api/anchor/{anchor}/delegation", srv.handlePrepareDelegation).Methods(http.MethodPost)
	r.HandleFunc("/api/anchor/{anchor}/delegation", srv.handleGetDelegation).Methods(http.MethodGet)
	r.HandleFunc("/api/anchor/{anchor}/principal", srv.handleGetPrincipal).Methods(http.MethodGet)

	r.HandleFunc("/api/stats", srv.handleStats).Methods(http.MethodGet)

	if cfg.Registry != nil {
		r.Handle("/metrics", newMetricsHandler(cfg.Registry))
	}
	if cfg.Pages != nil {
		now := cfg.Now
		if now == nil {
			now = time.Now
		}
		health, err := newHealthHandler(cfg.Pages, now)
		if err != nil {
			return nil, err
		}
		r.Handle("/healthz", health)
	}

	var h http.Handler = r
	h = securityHeaders(h)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	if cfg.LogWriter != nil {
		h = handlers.LoggingHandler(cfg.LogWriter, h)
	}
	h = requestID(h)

	srv.handler = h
	return srv, nil
}
