package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-bridge/auth"
	"github.com/jrsteele09/go-auth-bridge/callback"
	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/identity/gotrue"
	"github.com/jrsteele09/go-auth-bridge/identity/memory"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	"github.com/jrsteele09/go-auth-bridge/internal/config"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/jrsteele09/go-auth-bridge/server"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/jrsteele09/go-auth-bridge/token"
	"github.com/jrsteele09/go-auth-bridge/users"
	fakeuserrepo "github.com/jrsteele09/go-auth-bridge/users/repofake"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profiles := fakeuserrepo.NewFakeUserRepo()
	backend, err := newBackend(c, profiles)
	if err != nil {
		return err
	}

	crumbs, closeCrumbs, err := newBreadcrumbs(c)
	if err != nil {
		return err
	}
	defer closeCrumbs()

	// The shell socket is the bridge, the SSO plugin and the platform probe.
	hub := server.NewShellHub(c.GetAllowedOrigins(),
		server.WithDefaultPlatform(platform.ParseOS(c.GetShellPlatform())),
	)

	options := []auth.Option{
		auth.WithSSOPlugin(hub),
		auth.WithBreadcrumbs(crumbs),
		auth.WithProfiles(profiles),
		auth.WithCustomScheme(c.GetCustomScheme()),
	}
	if c.GetSSOClientID() != "" {
		verifier, err := platform.NewOIDCVerifier(ctx, c.GetSSOIssuer(), c.GetSSOClientID())
		if err != nil {
			return fmt.Errorf("NewOIDCVerifier: %w", err)
		}
		options = append(options, auth.WithIDTokenVerifier(verifier))
	}

	store := sessions.NewStore()
	router, err := auth.NewRouter(profiles, hub, c.GetNewUserWindow(), options...)
	if err != nil {
		return err
	}
	deps := auth.Deps{
		Backend:  backend,
		Store:    store,
		Guard:    auth.NewGuard(c.GetAttemptStaleness()),
		Router:   router,
		Notifier: hub,
		Probe:    hub,
		Bridge:   hub,
	}
	initiator, err := auth.NewInitiator(deps, c, options...)
	if err != nil {
		return err
	}
	reconciler, err := auth.NewReconciler(deps, options...)
	if err != nil {
		return err
	}
	defer reconciler.Close()
	manager, err := auth.NewStateManager(deps, initiator, reconciler, options...)
	if err != nil {
		return err
	}
	defer manager.Close()

	listener, err := callback.NewListener(reconciler,
		callback.WithTrustedSource(c.GetBridgeSource()),
		callback.WithCustomScheme(c.GetCustomScheme()),
		callback.WithSettleDelay(c.GetNativeSettleDelay()),
		callback.WithBreadcrumbs(crumbs),
	)
	if err != nil {
		return err
	}
	defer listener.Close()

	if err := manager.Start(ctx); err != nil {
		return err
	}
	listener.Start(ctx)

	handler, err := server.New(c, server.Deps{Manager: manager, Listener: listener, Hub: hub, Crumbs: crumbs})
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// newBackend selects the identity backend named by AUTH_BACKEND.
func newBackend(c config.Config, profiles users.Repo) (identity.Backend, error) {
	switch c.GetAuthBackend() {
	case "gotrue":
		client, err := gotrue.New(c.GetGoTrueURL(), c.GetGoTrueAPIKey())
		if err != nil {
			return nil, fmt.Errorf("gotrue.New: %w", err)
		}
		return client, nil
	case "memory":
		signingKey := []byte(uuid.New().String())
		return memory.New(profiles, token.NewHMACSigner(signingKey, c.GetAppName())), nil
	}
	return nil, fmt.Errorf("unknown AUTH_BACKEND %q", c.GetAuthBackend())
}

func newBreadcrumbs(c config.Config) (breadcrumb.Store, func(), error) {
	if c.GetBreadcrumbDSN() == "" {
		return breadcrumb.NewMemoryStore(time.Now), func() {}, nil
	}
	store, err := breadcrumb.OpenSQLite(c.GetBreadcrumbDSN(), time.Now)
	if err != nil {
		return nil, nil, fmt.Errorf("breadcrumb.OpenSQLite: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Err(err).Msg("close breadcrumb store")
		}
	}, nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
