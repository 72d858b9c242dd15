package shutdown

import (
	"strings"
	"time"

	"probity/native/registry"
)

// DefaultWaitPeriod is applied to both the auction and supplier wait periods.
const DefaultWaitPeriod = 172800 * time.Second

// Config captures the runtime configuration for one settlement epoch.
type Config struct {
	AuctionWaitPeriod  time.Duration `toml:"AuctionWaitPeriod"`
	SupplierWaitPeriod time.Duration `toml:"SupplierWaitPeriod"`

	// GovRole gates every administrative operation.
	GovRole string `toml:"GovRole"`
	// HolderRole gates returnStablecoin, redeemCollateral and redeemVouchers.
	// "*" admits any caller.
	HolderRole string `toml:"HolderRole"`
}

// DefaultConfig returns the wait periods and roles used by a fresh deployment.
func DefaultConfig() Config {
	return Config{
		AuctionWaitPeriod:  DefaultWaitPeriod,
		SupplierWaitPeriod: DefaultWaitPeriod,
		GovRole:            registry.RoleGov,
		HolderRole:         registry.RoleGov,
	}
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	defaults := DefaultConfig()
	if c.AuctionWaitPeriod <= 0 {
		c.AuctionWaitPeriod = defaults.AuctionWaitPeriod
	}
	if c.SupplierWaitPeriod <= 0 {
		c.SupplierWaitPeriod = defaults.SupplierWaitPeriod
	}
	c.GovRole = strings.TrimSpace(c.GovRole)
	if c.GovRole == "" {
		c.GovRole = defaults.GovRole
	}
	c.HolderRole = strings.TrimSpace(c.HolderRole)
	if c.HolderRole == "" {
		c.HolderRole = defaults.HolderRole
	}
}
