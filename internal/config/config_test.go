package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-bridge/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := config.Default()

	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, "memory", c.GetAuthBackend())
	require.Equal(t, "email profile", c.GetScopes())
	require.Equal(t, "select_account", c.GetPrompt())
	require.Equal(t, 8*time.Second, c.GetRedirectTimeout())
	require.Equal(t, 3*time.Second, c.GetNativeSettleDelay())
	require.Equal(t, 50*time.Millisecond, c.GetNavigationDelay())
	require.Equal(t, 5*time.Minute, c.GetAttemptStaleness())
	require.Equal(t, 5*time.Minute, c.GetNewUserWindow())
	require.Equal(t, "deep-links", c.GetBridgeSource())
	require.Equal(t, "introgy", c.GetCustomScheme())
	require.Equal(t, "web", c.GetShellPlatform())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("capacitor://localhost"))
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("ATTEMPT_STALENESS", "2m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BRIDGE_SOURCE", "bridge")

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, ":9090", c.GetPort())
	require.Equal(t, 2*time.Minute, c.GetAttemptStaleness())
	require.Equal(t, "bridge", c.GetBridgeSource())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("https://b.example"))
	require.False(t, c.GetAllowedOrigins().IsAllowedOrigin("capacitor://localhost"))
}

func TestNew_InvalidDuration(t *testing.T) {
	t.Setenv("REDIRECT_TIMEOUT", "soon")

	_, err := config.New()
	require.Error(t, err)
}
