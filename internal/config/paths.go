package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".turnstile"

// Paths holds resolved filesystem locations.
type Paths struct {
	Base   string // ~/.turnstile, or $TURNSTILE_HOME
	Config string // <base>/config.yaml, or $TURNSTILE_CONFIG
	Data   string // <base>/data
}

// ResolvePaths computes the standard paths. TURNSTILE_HOME replaces the
// base directory and TURNSTILE_CONFIG points at a config file elsewhere.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("TURNSTILE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	p := Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
	}
	if cfg := os.Getenv("TURNSTILE_CONFIG"); cfg != "" {
		p.Config = cfg
	}
	return p, nil
}

// BillingDB returns the billing database path, honoring an explicit override.
func (p Paths) BillingDB(override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(p.Data, "billing.db")
}

// EnsureDirs creates the base and data directories and the config file's
// parent.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Data}
	if p.Config != "" {
		dirs = append(dirs, filepath.Dir(p.Config))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
