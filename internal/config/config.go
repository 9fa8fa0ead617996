// Package config loads engine configuration from a YAML file with .env
// overrides. Engine parameters are explicit values handed to the services at
// construction and frozen per market at creation, never hidden module state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// StorageConfig controls where the ledger persists.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // sqlite file path, or ":memory:"
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Pretty bool   `yaml:"pretty"` // console writer instead of JSON
}

// EngineConfig carries the admin-controlled market parameters. Amounts are
// whole collateral units (scaled to 18 decimals internally).
type EngineConfig struct {
	FeeBps               int64  `yaml:"fee_bps"`
	CreationFeeUnits     uint64 `yaml:"creation_fee_units"`
	MinLiquidityUnits    uint64 `yaml:"min_liquidity_units"`
	ReserveFloorUnits    uint64 `yaml:"reserve_floor_units"`
	CreationCapPerDay    int    `yaml:"creation_cap_per_day"`
	MinMinutesToExpiry   int    `yaml:"min_minutes_to_expiry"`
	RevenueSharePct      int64  `yaml:"revenue_share_pct"`
	ProcessorIntervalSec int    `yaml:"processor_interval_sec"`
}

// AuthConfig carries the JWT signing secret. The file value is a fallback;
// JWT_SECRET in the environment wins.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads the YAML config and applies .env / environment overrides.
func Load(path string) (*Config, error) {
	// Load .env if present; missing file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given. Tests build
// scenario-specific variants from this.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.FeeBps = bps
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "markets.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "flip-predict-secret"
	}
	if cfg.Engine.FeeBps == 0 {
		cfg.Engine.FeeBps = 200 // 2%
	}
	if cfg.Engine.MinLiquidityUnits == 0 {
		cfg.Engine.MinLiquidityUnits = 10
	}
	if cfg.Engine.ReserveFloorUnits == 0 {
		cfg.Engine.ReserveFloorUnits = 1
	}
	if cfg.Engine.CreationCapPerDay == 0 {
		cfg.Engine.CreationCapPerDay = 5
	}
	if cfg.Engine.MinMinutesToExpiry == 0 {
		cfg.Engine.MinMinutesToExpiry = 60
	}
	if cfg.Engine.RevenueSharePct == 0 {
		cfg.Engine.RevenueSharePct = 10
	}
	if cfg.Engine.ProcessorIntervalSec == 0 {
		cfg.Engine.ProcessorIntervalSec = 5
	}
}

// CreationFee returns the market creation fee as a ledger amount.
func (e EngineConfig) CreationFee() fixedpoint.Amount {
	return fixedpoint.FromUnits(e.CreationFeeUnits)
}

// MinLiquidity returns the minimum initial pool collateral.
func (e EngineConfig) MinLiquidity() fixedpoint.Amount {
	return fixedpoint.FromUnits(e.MinLiquidityUnits)
}

// ReserveFloor returns the minimum reserve enforced on trades and
// withdrawals.
func (e EngineConfig) ReserveFloor() fixedpoint.Amount {
	return fixedpoint.FromUnits(e.ReserveFloorUnits)
}

// MinTimeToExpiry returns the shortest allowed market duration.
func (e EngineConfig) MinTimeToExpiry() time.Duration {
	return time.Duration(e.MinMinutesToExpiry) * time.Minute
}

// ProcessorInterval returns the event processor polling interval.
func (e EngineConfig) ProcessorInterval() time.Duration {
	return time.Duration(e.ProcessorIntervalSec) * time.Second
}
