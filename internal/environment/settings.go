package environment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalidEnvironment is returned for names other than testnet/mainnet.
var ErrInvalidEnvironment = errors.New("invalid environment")

// Settings is the promotion policy plus the current environment. The
// YAML form is the on-disk state file.
type Settings struct {
	Environment             Environment `yaml:"environment"`
	AutoSwitchEnabled       bool        `yaml:"auto_switch_enabled"`
	TestnetDurationHours    int         `yaml:"testnet_duration_hours"`
	MinTradesForSwitch      int         `yaml:"min_trades_for_switch"`
	MaxDrawdownPctForSwitch float64     `yaml:"max_drawdown_pct_for_switch"`

	ConfigPath string `yaml:"-"` // state file location
	ConfigRoot string `yaml:"-"` // parent of the per-environment exchange config dirs
}

// DefaultSettings returns testnet with auto-switch after 48h, 10 trades
// and at most 4% drawdown.
func DefaultSettings() Settings {
	return Settings{
		Environment:             Testnet,
		AutoSwitchEnabled:       true,
		TestnetDurationHours:    48,
		MinTradesForSwitch:      10,
		MaxDrawdownPctForSwitch: 4.0,
		ConfigPath:              "config/env.yaml",
		ConfigRoot:              "config",
	}
}

// LoadFile overlays the state file at path onto base. A missing file
// returns base unchanged.
func LoadFile(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("read %s: %w", path, err)
	}
	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	if !out.Environment.Valid() {
		return base, fmt.Errorf("%s: %w: %q", path, ErrInvalidEnvironment, out.Environment)
	}
	out.ConfigPath, out.ConfigRoot = base.ConfigPath, base.ConfigRoot
	return out, nil
}

// SaveFile writes s to path atomically (temp file + rename).
func SaveFile(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".env-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
