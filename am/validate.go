package am

import (
	"net/url"

	"github.com/teranos/docsync/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 means default, negative or out of range is invalid
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	// Interval: 0 = manual sync only, negative = invalid
	if c.Sync.IntervalSeconds < 0 {
		return errors.Newf("sync.interval_seconds must be >= 0, got %d", c.Sync.IntervalSeconds)
	}

	if c.Sync.MaxRounds < 0 {
		return errors.Newf("sync.max_rounds must be > 0 (omit for default), got %d", c.Sync.MaxRounds)
	}

	if c.Sync.SessionTimeoutSeconds < 0 {
		return errors.Newf("sync.session_timeout_seconds must be >= 0, got %d", c.Sync.SessionTimeoutSeconds)
	}

	// Inbound limit: 0 = unlimited, negative = invalid
	if c.Sync.InboundPerMinute < 0 {
		return errors.Newf("sync.inbound_per_minute must be >= 0, got %d", c.Sync.InboundPerMinute)
	}

	for _, name := range c.PeerNames() {
		if err := validatePeerURL(c.Sync.Peers[name]); err != nil {
			return errors.Wrapf(err, "sync.peers.%s", name)
		}
	}

	return nil
}

func validatePeerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid peer url")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.Newf("peer url %q must use http, https, ws or wss", raw)
	}
	if u.Host == "" {
		return errors.Newf("peer url %q has no host", raw)
	}
	return nil
}
