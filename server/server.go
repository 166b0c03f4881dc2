package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-bridge/auth"
	"github.com/jrsteele09/go-auth-bridge/callback"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	"github.com/jrsteele09/go-auth-bridge/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Deps are the components the HTTP surface drives.
type Deps struct {
	Manager  *auth.StateManager // auth verbs and state
	Listener *callback.Listener // callback event stream
	Hub      *ShellHub          // app shell socket
	Crumbs   breadcrumb.Store   // optional debug breadcrumbs
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	manager  *auth.StateManager
	listener *callback.Listener
	hub      *ShellHub
	crumbs   breadcrumb.Store
}

func New(config config.Config, deps Deps) (*Server, error) {
	if config == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if deps.Manager == nil {
		return nil, errors.New("[Server New] Manager is required")
	}
	if deps.Listener == nil {
		return nil, errors.New("[Server New] Listener is required")
	}
	if deps.Hub == nil {
		return nil, errors.New("[Server New] Hub is required")
	}

	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		manager:  deps.Manager,
		listener: deps.Listener,
		hub:      deps.Hub,
		crumbs:   deps.Crumbs,
	}
	s.hub.OnFrame(s.handleShellFrame)
	s.hub.OnConnect(s.handleShellConnected)

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Debug().Msgf("[%-19s] %s", colourMethod(method), path)
}
