package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/memd/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "memd"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# memd configuration
# Run: memd --help

# Optional: override the SQLite database location.
# Can also be set via MEMD_DB_PATH or --db-path.
# db_path: ~/.config/memd/memd.db

# Retrieval and packing:
# max_candidate_pool: 500
# default_max_tokens: 65000
# recency_half_life_seconds: 604800

# Consolidation worker:
# consolidation_interval_seconds: 300
# consolidation_batch_size: 100

# Retention and capsules:
# retention_audit_days: 90
# capsule_ttl_min_days: 1
# capsule_ttl_max_days: 365
`
