package am

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "docsync.db")

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Sync defaults
	v.SetDefault("sync.name", "")
	v.SetDefault("sync.interval_seconds", 0) // Manual sync only
	v.SetDefault("sync.max_rounds", 32)
	v.SetDefault("sync.session_timeout_seconds", 30)
	v.SetDefault("sync.inbound_per_minute", 60)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds configuration that deployments
// commonly override from the environment
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "DOCSYNC_DATABASE_PATH")
	v.BindEnv("server.port", "DOCSYNC_SERVER_PORT")
	v.BindEnv("sync.name", "DOCSYNC_SYNC_NAME")
}

// GetServerPort returns server.port, or DefaultServerPort if not configured
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "docsync.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed WebSocket origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetSyncInterval returns the automatic sync interval; zero disables the ticker
func (c *Config) GetSyncInterval() time.Duration {
	if c.Sync.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// GetSessionTimeout returns the per-session deadline (default 30s)
func (c *Config) GetSessionTimeout() time.Duration {
	if c.Sync.SessionTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sync.SessionTimeoutSeconds) * time.Second
}

// GetMaxRounds returns sync.max_rounds (default 32)
func (c *Config) GetMaxRounds() int {
	if c.Sync.MaxRounds <= 0 {
		return 32
	}
	return c.Sync.MaxRounds
}

// PeerNames returns the configured peer names in sorted order
func (c *Config) PeerNames() []string {
	names := make([]string, 0, len(c.Sync.Peers))
	for name := range c.Sync.Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Sync: {Name: %q, Peers: %d}}",
		c.Database.Path, c.GetServerPort(), c.Sync.Name, len(c.Sync.Peers))
}
