package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may
// query after startup merging.
type RuntimeConfig struct {
	SigningKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running
// server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view of flags, config file and
// environment the server actually runs with.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
}

// ParseConfigFlags parses command-line flags.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays TEAMWIRE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TEAMWIRE_SERVER_ADDR"); v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("TEAMWIRE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("TEAMWIRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TEAMWIRE_SIGNING_KEYS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.Security.SigningKeys = append(cfg.Security.SigningKeys, s)
			}
		}
	}
}

// LoadEffective loads the config file (missing file is not fatal),
// overlays env vars, applies flag overrides and fills defaults.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfg, err := Load(flags.Config)
	if err != nil {
		if !os.IsNotExist(err) {
			return EffectiveConfigResult{}, err
		}
		cfg = &Config{}
	}
	applyEnv(cfg)

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" || flags.Set["db"] {
		dbPath = flags.DB
	}

	if cfg.Presence.SendBuffer <= 0 {
		cfg.Presence.SendBuffer = 64
	}
	if cfg.History.DefaultLimit <= 0 {
		cfg.History.DefaultLimit = 50
	}
	if cfg.History.MaxLimit <= 0 {
		cfg.History.MaxLimit = 200
	}
	if cfg.Retention.BatchSize <= 0 {
		cfg.Retention.BatchSize = 500
	}

	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath}, nil
}
