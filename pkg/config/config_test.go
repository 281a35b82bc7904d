package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validYAML() string {
	return `area:
  map_start: [40.7, -74.1]
  map_end: [40.8, -74.0]
  grid_rows: 2
  grid_cols: 2
accounts:
  - {username: a, password: pa, provider: ptc}
  - {username: b, password: pb, provider: ptc}
  - {username: c, password: pc, provider: google}
  - {username: d, password: pd, provider: ptc}
  - {username: e, password: pe, provider: ptc}
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wildscan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scan.SpeedLimit != 19 {
		t.Errorf("expected default speed limit 19, got %v", cfg.Scan.SpeedLimit)
	}
	if cfg.Scan.ScanDelay != Duration(10*time.Second) {
		t.Errorf("expected default scan delay 10s, got %v", cfg.Scan.ScanDelay)
	}
	if cfg.Scan.SkipSpawn != Duration(90*time.Second) {
		t.Errorf("expected default skip spawn 90s, got %v", cfg.Scan.SkipSpawn)
	}
	// ceil(4/15)+1 = 2
	if cfg.Scan.NetworkThreads != 2 {
		t.Errorf("expected 2 network threads for 4 cells, got %d", cfg.Scan.NetworkThreads)
	}
	if cfg.Captcha.MaxCaptchas != 0 {
		t.Errorf("expected max captchas 0, got %d", cfg.Captcha.MaxCaptchas)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "equal latitudes",
			mutate:  func(c *Config) { c.Area.MapEnd[0] = c.Area.MapStart[0] },
			wantErr: "must differ",
		},
		{
			name:    "scan delay too low",
			mutate:  func(c *Config) { c.Scan.ScanDelay = Duration(5 * time.Second) },
			wantErr: "scan_delay",
		},
		{
			name:    "speed limit too high",
			mutate:  func(c *Config) { c.Scan.SpeedLimit = 30 },
			wantErr: "25mph",
		},
		{
			name:    "bad encounter mode",
			mutate:  func(c *Config) { c.Scan.Encounter = "sometimes" },
			wantErr: "encounter",
		},
		{
			name:    "zero simultaneous logins",
			mutate:  func(c *Config) { c.Scan.SimultaneousLogins = -1 },
			wantErr: "simultaneous_logins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML()))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestProxyNormalization(t *testing.T) {
	yaml := validYAML() + `proxies:
  - socks5://localhost:9050
  - socks5://localhost:9051
  - socks5://localhost:9050
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(cfg.ProxySet()); got != 2 {
		t.Errorf("expected 2 unique proxies, got %d", got)
	}
}

func TestItemLimitsIgnoredWithoutSpinning(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()+"scan:\n  item_limits: [100, 200]\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scan.ItemLimits != nil {
		t.Error("item_limits should be dropped when spin_pokestops is off")
	}
}
