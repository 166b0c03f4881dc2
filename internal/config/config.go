package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	BridgeConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAuthBackend() string
	GetGoTrueURL() string
	GetGoTrueAPIKey() string
	GetBreadcrumbDSN() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Bridge
}

// New loads the configuration from the environment. Unset variables fall back
// to the envDefault of each field.
func New() (Config, error) {
	var c mainConfig
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("[config New] parse env: %w", err)
	}
	return c, nil
}

// Default returns the configuration with every field at its default value.
// It panics if the defaults do not parse.
func Default() Config {
	var c mainConfig
	if err := env.ParseWithOptions(&c, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("[config Default] parse defaults: %v", err))
	}
	return c
}
