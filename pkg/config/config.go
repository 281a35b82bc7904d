package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Encounter settings control which encounters get a follow-up request.
const (
	EncounterNone      = "none"
	EncounterNotifying = "notifying"
	EncounterAll       = "all"
)

// Config holds the application configuration.
type Config struct {
	DB       DBConfig        `yaml:"db"`
	Area     AreaConfig      `yaml:"area"`
	Accounts []AccountConfig `yaml:"accounts"`
	Proxies  []string        `yaml:"proxies"`
	Scan     ScanConfig      `yaml:"scan"`
	Notify   NotifyConfig    `yaml:"notify"`
	Captcha  CaptchaConfig   `yaml:"captcha"`
	Snapshot SnapshotConfig  `yaml:"snapshot"`
	Viewer   ViewerConfig    `yaml:"viewer"`
	Log      LogConfig       `yaml:"log"`
	Upstream string          `yaml:"upstream"`
	HashKey  string          `yaml:"hash_key"`

	// ControlSocks maps a proxy URL to the control socket used to request a
	// fresh circuit for it.
	ControlSocks map[string]string `yaml:"control_socks"`

	// proxySet is the normalized form of Proxies, built during validation.
	proxySet map[string]struct{}
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// AreaConfig describes the rectangular scan region and its grid partition.
type AreaConfig struct {
	MapStart [2]float64 `yaml:"map_start"`
	MapEnd   [2]float64 `yaml:"map_end"`
	GridRows int        `yaml:"grid_rows"`
	GridCols int        `yaml:"grid_cols"`
}

// Cells returns the total number of grid cells (= worker count).
func (a AreaConfig) Cells() int {
	return a.GridRows * a.GridCols
}

// AccountConfig holds one scanning credential.
type AccountConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Provider string `yaml:"provider"`
}

// ScanConfig holds scheduler and worker tuning.
type ScanConfig struct {
	ScanDelay          Duration `yaml:"scan_delay"`
	SpeedLimit         float64  `yaml:"speed_limit"`
	SimultaneousLogins int      `yaml:"simultaneous_logins"`
	NetworkThreads     int      `yaml:"network_threads"`
	MaxRetries         int      `yaml:"max_retries"`
	GiveUpKnown        Duration `yaml:"give_up_known"`
	GiveUpUnknown      Duration `yaml:"give_up_unknown"`
	SkipSpawn          Duration `yaml:"skip_spawn"`
	ShuffleThreshold   int      `yaml:"shuffle_threshold"`
	LongSpawns         bool     `yaml:"long_spawns"`
	Encounter          string   `yaml:"encounter"`
	SpinPokestops      bool     `yaml:"spin_pokestops"`
	SpinCooldown       Duration `yaml:"spin_cooldown"`
	ItemLimits         []int    `yaml:"item_limits"`
	MapWorkers         bool     `yaml:"map_workers"`
	AppSimulation      bool     `yaml:"app_simulation"`
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	Enabled          bool        `yaml:"enabled"`
	IDs              []int       `yaml:"ids"`
	Ranking          int         `yaml:"ranking"`
	AlwaysNotify     int         `yaml:"always_notify"`
	MinTime          Duration    `yaml:"min_time"`
	MaxTime          Duration    `yaml:"max_time"`
	DesiredFrequency [2]Duration `yaml:"desired_frequency"`
}

// CaptchaConfig holds captcha handling settings.
type CaptchaConfig struct {
	MaxCaptchas int `yaml:"max_captchas"`
}

// SnapshotConfig holds on-disk snapshot paths. Absence of either file at
// startup is non-fatal.
type SnapshotConfig struct {
	Spawns   string `yaml:"spawns"`
	Accounts string `yaml:"accounts"`
}

// ViewerConfig holds settings for the inter-process viewer channel.
type ViewerConfig struct {
	Address string `yaml:"address"`
	AuthKey string `yaml:"auth_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			Path: "./data/wildscan.db",
		},
		Scan: ScanConfig{
			ScanDelay:          Duration(10 * time.Second),
			SpeedLimit:         19,
			SimultaneousLogins: 4,
			MaxRetries:         3,
			GiveUpKnown:        Duration(60 * time.Second),
			GiveUpUnknown:      Duration(20 * time.Second),
			SkipSpawn:          Duration(90 * time.Second),
			ShuffleThreshold:   500,
			Encounter:          EncounterNone,
			SpinCooldown:       Duration(300 * time.Second),
			MapWorkers:         true,
			AppSimulation:      true,
		},
		Notify: NotifyConfig{
			MinTime: Duration(120 * time.Second),
			DesiredFrequency: [2]Duration{
				Duration(1200 * time.Second),
				Duration(1800 * time.Second),
			},
		},
		Snapshot: SnapshotConfig{
			Spawns:   "./data/spawns.json",
			Accounts: "./data/accounts.json",
		},
		Viewer: ViewerConfig{
			Address: "localhost:1931",
		},
		Upstream: "http://127.0.0.1:9090",
		Log: LogConfig{
			Path:  "./logs/wildscan.log",
			Level: "INFO",
		},
	}
}

// Load reads the configuration from the given path and validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.HashKey == "" {
		cfg.HashKey = os.Getenv("WILDSCAN_HASH_KEY")
	}
	if cfg.Viewer.AuthKey == "" {
		cfg.Viewer.AuthKey = os.Getenv("WILDSCAN_AUTH_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and normalizes defaulted ones. It is the
// single place where limits are enforced.
func (c *Config) Validate() error {
	if c.Area.GridRows < 1 || c.Area.GridCols < 1 {
		return fmt.Errorf("grid_rows and grid_cols must be at least 1")
	}
	if c.Area.MapStart[0] == c.Area.MapEnd[0] || c.Area.MapStart[1] == c.Area.MapEnd[1] {
		return fmt.Errorf("the latitudes and longitudes of map_start and map_end must differ")
	}
	if len(c.Accounts) < c.Area.Cells() {
		return fmt.Errorf("need at least %d accounts for a %dx%d grid, have %d",
			c.Area.Cells(), c.Area.GridRows, c.Area.GridCols, len(c.Accounts))
	}

	if c.Scan.ScanDelay < Duration(10*time.Second) {
		return fmt.Errorf("scan_delay must be at least 10s")
	}
	if c.Scan.SpeedLimit > 25 {
		return fmt.Errorf("speeds over 25mph would probably cause problems")
	}
	if c.Scan.SpeedLimit <= 0 {
		c.Scan.SpeedLimit = 19
	}
	if c.Scan.SimultaneousLogins < 1 {
		return fmt.Errorf("simultaneous_logins must be at least 1")
	}
	if c.Scan.NetworkThreads <= 0 {
		c.Scan.NetworkThreads = int(math.Ceil(float64(c.Area.Cells())/15)) + 1
	}
	if c.Scan.MaxRetries <= 0 {
		c.Scan.MaxRetries = 3
	}
	if c.Scan.ShuffleThreshold <= 0 {
		c.Scan.ShuffleThreshold = 500
	}

	switch c.Scan.Encounter {
	case "", EncounterNone, EncounterNotifying, EncounterAll:
	default:
		return fmt.Errorf("valid encounter settings are: %q, %q and %q",
			EncounterNone, EncounterNotifying, EncounterAll)
	}

	// Bag cleaning only makes sense when spinning pokestops.
	if !c.Scan.SpinPokestops {
		c.Scan.ItemLimits = nil
	}

	if c.Notify.Enabled && len(c.Notify.IDs) == 0 && c.Notify.Ranking == 0 {
		return fmt.Errorf("notify requires ids or ranking to be set")
	}

	c.proxySet = make(map[string]struct{}, len(c.Proxies))
	for _, p := range c.Proxies {
		c.proxySet[p] = struct{}{}
	}

	return nil
}

// ProxySet returns the de-duplicated proxy URLs.
func (c *Config) ProxySet() []string {
	out := make([]string, 0, len(c.proxySet))
	for p := range c.proxySet {
		out = append(out, p)
	}
	return out
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
