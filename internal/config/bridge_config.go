package config

type BridgeConfig interface {
	GetBridgeSource() string
	GetCustomScheme() string
	GetShellPlatform() string
}

type Bridge struct {
	Source        string `env:"BRIDGE_SOURCE" envDefault:"deep-links"`
	CustomScheme  string `env:"CUSTOM_SCHEME" envDefault:"introgy"`
	ShellPlatform string `env:"SHELL_PLATFORM" envDefault:"web"`
}

var _ BridgeConfig = Bridge{}

// GetBridgeSource is the tag the injected bridge script puts on every message.
// Messages with any other source are ignored.
func (b Bridge) GetBridgeSource() string {
	return b.Source
}

func (b Bridge) GetCustomScheme() string {
	return b.CustomScheme
}

// GetShellPlatform names the platform of the attached app shell: "web", "ios"
// or "android".
func (b Bridge) GetShellPlatform() string {
	return b.ShellPlatform
}
