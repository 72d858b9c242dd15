package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"probity/core/types"
	"probity/native/shutdown"
)

// Config is the on-disk configuration of a settlement deployment.
type Config struct {
	DataDir     string          `toml:"DataDir"`
	Environment string          `toml:"Environment"`
	Shutdown    ShutdownConfig  `toml:"Shutdown"`
	Storage     StorageConfig   `toml:"Storage"`
	Journal     JournalConfig   `toml:"Journal"`
	Server      ServerConfig    `toml:"Server"`
	Auth        AuthConfig      `toml:"Auth"`
	Telemetry   TelemetryConfig `toml:"Telemetry"`
	Log         LogConfig       `toml:"Log"`
}

// ShutdownConfig describes the coordinator and the world it settles.
type ShutdownConfig struct {
	Address             string   `toml:"Address"`
	ReservePoolAddress  string   `toml:"ReservePoolAddress"`
	AuctionWaitSeconds  uint64   `toml:"AuctionWaitSeconds"`
	SupplierWaitSeconds uint64   `toml:"SupplierWaitSeconds"`
	GovRole             string   `toml:"GovRole"`
	HolderRole          string   `toml:"HolderRole"`
	Governors           []string `toml:"Governors"`
	Assets              []string `toml:"Assets"`

	// SeedFile optionally names a scenario file whose prices, vaults,
	// reserves and vouchers seed the in-memory collaborators at start-up.
	SeedFile string `toml:"SeedFile"`
}

type StorageConfig struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

type JournalConfig struct {
	// DSN selects the journal database: a postgres:// URL or a sqlite path.
	// An empty DSN disables the journal.
	DSN string `toml:"DSN"`
}

type ServerConfig struct {
	Listen             string `toml:"Listen"`
	RateLimitPerMinute int    `toml:"RateLimitPerMinute"`
	Burst              int    `toml:"Burst"`
	ReadHeaderTimeout  int    `toml:"ReadHeaderTimeoutSeconds"`
}

type AuthConfig struct {
	HMACSecret    string `toml:"HMACSecret"`
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Load loads the configuration from the given path. A default file is
// written when none exists. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, nil
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	applyEnv(cfg)
	return cfg, nil
}

// Default returns the configuration written by Load for a fresh deployment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./probity-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.Shutdown.Address == "" {
		c.Shutdown.Address = "0x0000000000000000000000000000000000005d0e"
	}
	if c.Shutdown.ReservePoolAddress == "" {
		c.Shutdown.ReservePoolAddress = "0x0000000000000000000000000000000000007e5e"
	}
	if c.Shutdown.AuctionWaitSeconds == 0 {
		c.Shutdown.AuctionWaitSeconds = uint64(shutdown.DefaultWaitPeriod / time.Second)
	}
	if c.Shutdown.SupplierWaitSeconds == 0 {
		c.Shutdown.SupplierWaitSeconds = uint64(shutdown.DefaultWaitPeriod / time.Second)
	}
	defaults := shutdown.DefaultConfig()
	if c.Shutdown.GovRole == "" {
		c.Shutdown.GovRole = defaults.GovRole
	}
	if c.Shutdown.HolderRole == "" {
		c.Shutdown.HolderRole = defaults.HolderRole
	}
	if c.Shutdown.Governors == nil {
		c.Shutdown.Governors = []string{}
	}
	if c.Shutdown.Assets == nil {
		c.Shutdown.Assets = []string{}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "leveldb"
	}
	if c.Storage.Path == "" && c.Storage.Backend != "memory" {
		c.Storage.Path = filepath.Join(c.DataDir, "checkpoints")
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8645"
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 120
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 20
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "probity"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// CoordinatorConfig converts the [Shutdown] section into coordinator
// settings.
func (c *Config) CoordinatorConfig() shutdown.Config {
	return shutdown.Config{
		AuctionWaitPeriod:  time.Duration(c.Shutdown.AuctionWaitSeconds) * time.Second,
		SupplierWaitPeriod: time.Duration(c.Shutdown.SupplierWaitSeconds) * time.Second,
		GovRole:            c.Shutdown.GovRole,
		HolderRole:         c.Shutdown.HolderRole,
	}
}

// CoordinatorAddress returns the address the coordinator acts as.
func (c *Config) CoordinatorAddress() (common.Address, error) {
	return parseAddress("Shutdown.Address", c.Shutdown.Address)
}

func (c *Config) ReservePoolAddress() (common.Address, error) {
	return parseAddress("Shutdown.ReservePoolAddress", c.Shutdown.ReservePoolAddress)
}

// GovernorAddresses returns the addresses granted the governance role at
// startup.
func (c *Config) GovernorAddresses() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.Shutdown.Governors))
	for i, raw := range c.Shutdown.Governors {
		addr, err := parseAddress(fmt.Sprintf("Shutdown.Governors[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (c *Config) AssetIDs() ([]types.AssetID, error) {
	out := make([]types.AssetID, 0, len(c.Shutdown.Assets))
	for i, raw := range c.Shutdown.Assets {
		id, err := types.ParseAssetID(raw)
		if err != nil {
			return nil, fmt.Errorf("Shutdown.Assets[%d]: %w", i, err)
		}
		if id.IsZero() {
			return nil, fmt.Errorf("Shutdown.Assets[%d]: empty asset id", i)
		}
		out = append(out, id)
	}
	return out, nil
}

// JWTSecret resolves the HMAC secret, preferring the named environment
// variable over the inline value.
func (c *Config) JWTSecret() string {
	if env := strings.TrimSpace(c.Auth.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}
