package config

import (
	"fmt"
	"strings"
)

var validBackends = map[string]struct{}{
	"leveldb": {},
	"bolt":    {},
	"memory":  {},
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if _, err := c.CoordinatorAddress(); err != nil {
		return err
	}
	pool, err := c.ReservePoolAddress()
	if err != nil {
		return err
	}
	self, _ := c.CoordinatorAddress()
	if pool == self {
		return fmt.Errorf("shutdown: reserve pool and coordinator must differ")
	}
	if _, err := c.GovernorAddresses(); err != nil {
		return err
	}
	if _, err := c.AssetIDs(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Shutdown.GovRole) == "" {
		return fmt.Errorf("shutdown: GovRole must not be empty")
	}
	if _, ok := validBackends[c.Storage.Backend]; !ok {
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage: path required for %s backend", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server: listen address required")
	}
	if c.Server.RateLimitPerMinute < 0 || c.Server.Burst < 0 {
		return fmt.Errorf("server: rate limit must be non-negative")
	}
	if c.Environment == "prod" && c.JWTSecret() == "" {
		return fmt.Errorf("auth: HMAC secret required in prod")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation limits must be non-negative")
	}
	return nil
}
