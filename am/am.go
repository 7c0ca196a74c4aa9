// Package am ("as-mentioned") holds docsync's replica configuration.
//
// Settings are read with viper from TOML files and DOCSYNC_* environment
// variables, in this order of precedence (lowest first):
//
//	/etc/docsync/am.toml
//	~/.docsync/am.toml
//	am.toml found by walking up from the working directory
//	DOCSYNC_* environment variables
package am

// File permission constants for configuration files
const (
	// DefaultDirPermissions for ~/.docsync
	DefaultDirPermissions = 0750
	// DefaultFilePermissions for written am.toml files
	DefaultFilePermissions = 0644
)

// DefaultServerPort is the sync server port when server.port is unset
const DefaultServerPort = 8770

// Config is the complete docsync configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	Sync     SyncConfig     `mapstructure:"sync" toml:"sync" json:"sync" yaml:"sync"`
	Log      LogConfig      `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// DatabaseConfig configures the replica's SQLite file
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// ServerConfig configures the HTTP/WebSocket listener
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port" json:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
}

// SyncConfig configures peer reconciliation.
//
// Peers maps a peer name to its base URL, e.g.
//
//	[sync.peers]
//	laptop = "http://192.168.1.20:8770"
type SyncConfig struct {
	// Name identifies this replica in sync_hello; empty means the actor id
	Name string `mapstructure:"name" toml:"name" json:"name" yaml:"name"`

	// IntervalSeconds between automatic sessions with every peer (0 = manual only)
	IntervalSeconds int `mapstructure:"interval_seconds" toml:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds"`

	// MaxRounds bounds a single session
	MaxRounds int `mapstructure:"max_rounds" toml:"max_rounds" json:"max_rounds" yaml:"max_rounds"`

	SessionTimeoutSeconds int `mapstructure:"session_timeout_seconds" toml:"session_timeout_seconds" json:"session_timeout_seconds" yaml:"session_timeout_seconds"`

	// InboundPerMinute limits accepted /ws/sync sessions (0 = unlimited)
	InboundPerMinute int `mapstructure:"inbound_per_minute" toml:"inbound_per_minute" json:"inbound_per_minute" yaml:"inbound_per_minute"`

	Peers map[string]string `mapstructure:"peers" toml:"peers" json:"peers" yaml:"peers"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
}
