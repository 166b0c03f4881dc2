package config

import (
	"fmt"
	"strings"
)

type EnvVars struct {
	Port          string `env:"PORT" envDefault:"8080"`
	AppName       string `env:"APP_NAME" envDefault:"Auth Bridge"`
	Env           string `env:"ENV" envDefault:"DEV"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AuthBackend   string `env:"AUTH_BACKEND" envDefault:"memory"`
	GoTrueURL     string `env:"GOTRUE_URL"`
	GoTrueAPIKey  string `env:"GOTRUE_API_KEY"`
	BreadcrumbDSN string `env:"BREADCRUMB_DSN"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetAuthBackend selects the identity backend: "memory" or "gotrue".
func (e EnvVars) GetAuthBackend() string {
	return e.AuthBackend
}

// GetGoTrueURL returns the base URL of the GoTrue compatible auth API,
// e.g. "https://project.supabase.co/auth/v1".
func (e EnvVars) GetGoTrueURL() string {
	return e.GoTrueURL
}

func (e EnvVars) GetGoTrueAPIKey() string {
	return e.GoTrueAPIKey
}

// GetBreadcrumbDSN returns the sqlite DSN for debug breadcrumbs. Empty keeps
// breadcrumbs in memory.
func (e EnvVars) GetBreadcrumbDSN() string {
	return e.BreadcrumbDSN
}
