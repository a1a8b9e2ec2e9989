package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath                       string `yaml:"db_path"`
	MaxCandidatePool             int    `yaml:"max_candidate_pool"`
	DefaultMaxTokens             int    `yaml:"default_max_tokens"`
	RecencyHalfLifeSeconds       int    `yaml:"recency_half_life_seconds"`
	ConsolidationIntervalSeconds int    `yaml:"consolidation_interval_seconds"`
	ConsolidationBatchSize       int    `yaml:"consolidation_batch_size"`
	RetentionAuditDays           int    `yaml:"retention_audit_days"`
	CapsuleTTLMinDays            int    `yaml:"capsule_ttl_min_days"`
	CapsuleTTLMaxDays            int    `yaml:"capsule_ttl_max_days"`
	ReflectionMinHandoffs        int    `yaml:"reflection_min_handoffs"`
}

// Config holds effective runtime values after defaults and env overrides.
type Config struct {
	MaxCandidatePool             int `json:"max_candidate_pool"`
	DefaultMaxTokens             int `json:"default_max_tokens"`
	RecencyHalfLifeSeconds       int `json:"recency_half_life_seconds"`
	ConsolidationIntervalSeconds int `json:"consolidation_interval_seconds"`
	ConsolidationBatchSize       int `json:"consolidation_batch_size"`
	RetentionAuditDays           int `json:"retention_audit_days"`
	CapsuleTTLMinDays            int `json:"capsule_ttl_min_days"`
	CapsuleTTLMaxDays            int `json:"capsule_ttl_max_days"`
	ReflectionMinHandoffs        int `json:"reflection_min_handoffs"`
}

const (
	defaultMaxCandidatePool     = 500
	defaultMaxTokens            = 65000
	defaultRecencyHalfLife      = 7 * 24 * 3600
	defaultConsolidationEvery   = 300
	defaultConsolidationBatch   = 100
	defaultRetentionAuditDays   = 90
	defaultCapsuleTTLMinDays    = 1
	defaultCapsuleTTLMaxDays    = 365
	defaultReflectionMinHandoff = 5

	// MaxTokensCeiling is the hard clamp on any caller-supplied max_tokens.
	MaxTokensCeiling = 128000
)

// EffectiveConfig returns validated runtime settings with defaults applied.
// Precedence per key: env (MEMD_*) > config.yaml > default. Invalid values
// fall back to defaults.
func EffectiveConfig() Config {
	cfg := Config{
		MaxCandidatePool:             defaultMaxCandidatePool,
		DefaultMaxTokens:             defaultMaxTokens,
		RecencyHalfLifeSeconds:       defaultRecencyHalfLife,
		ConsolidationIntervalSeconds: defaultConsolidationEvery,
		ConsolidationBatchSize:       defaultConsolidationBatch,
		RetentionAuditDays:           defaultRetentionAuditDays,
		CapsuleTTLMinDays:            defaultCapsuleTTLMinDays,
		CapsuleTTLMaxDays:            defaultCapsuleTTLMaxDays,
		ReflectionMinHandoffs:        defaultReflectionMinHandoff,
	}

	if s, err := LoadSettings(); err == nil {
		applyPositive(&cfg.MaxCandidatePool, s.MaxCandidatePool)
		applyPositive(&cfg.DefaultMaxTokens, s.DefaultMaxTokens)
		applyPositive(&cfg.RecencyHalfLifeSeconds, s.RecencyHalfLifeSeconds)
		applyPositive(&cfg.ConsolidationIntervalSeconds, s.ConsolidationIntervalSeconds)
		applyPositive(&cfg.ConsolidationBatchSize, s.ConsolidationBatchSize)
		applyPositive(&cfg.RetentionAuditDays, s.RetentionAuditDays)
		applyPositive(&cfg.CapsuleTTLMinDays, s.CapsuleTTLMinDays)
		applyPositive(&cfg.CapsuleTTLMaxDays, s.CapsuleTTLMaxDays)
		applyPositive(&cfg.ReflectionMinHandoffs, s.ReflectionMinHandoffs)
	}

	applyEnvInt(&cfg.MaxCandidatePool, "MEMD_MAX_CANDIDATE_POOL")
	applyEnvInt(&cfg.DefaultMaxTokens, "MEMD_DEFAULT_MAX_TOKENS")
	applyEnvInt(&cfg.RecencyHalfLifeSeconds, "MEMD_RECENCY_HALF_LIFE_SECONDS")
	applyEnvInt(&cfg.ConsolidationIntervalSeconds, "MEMD_CONSOLIDATION_INTERVAL_SECONDS")
	applyEnvInt(&cfg.ConsolidationBatchSize, "MEMD_CONSOLIDATION_BATCH_SIZE")
	applyEnvInt(&cfg.RetentionAuditDays, "MEMD_RETENTION_AUDIT_DAYS")
	applyEnvInt(&cfg.CapsuleTTLMinDays, "MEMD_CAPSULE_TTL_MIN_DAYS")
	applyEnvInt(&cfg.CapsuleTTLMaxDays, "MEMD_CAPSULE_TTL_MAX_DAYS")

	if cfg.DefaultMaxTokens > MaxTokensCeiling {
		cfg.DefaultMaxTokens = MaxTokensCeiling
	}
	if cfg.CapsuleTTLMinDays < 1 {
		cfg.CapsuleTTLMinDays = 1
	}
	if cfg.CapsuleTTLMaxDays < cfg.CapsuleTTLMinDays {
		cfg.CapsuleTTLMaxDays = cfg.CapsuleTTLMinDays
	}
	return cfg
}

func applyPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func applyEnvInt(dst *int, key string) {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			*dst = v
		}
	}
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/memd/config.yaml
// 2) /etc/memd/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		for _, path := range []string{
			filepath.Join(dir, "config.yaml"),
			filepath.Join(string(os.PathSeparator), "etc", "memd", "config.yaml"),
			"config.yaml",
		} {
			s, loadErr := loadSettingsFile(path)
			if loadErr == nil {
				settings = s
				return
			}
			if !errors.Is(loadErr, os.ErrNotExist) {
				settingsErr = loadErr
				return
			}
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
