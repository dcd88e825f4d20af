// Package config loads whogitit's TOML configuration, following a
// precedence chain: an explicit path from the environment wins, then a
// repo-local file, then a user-global file, then built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable that, when set, overrides the
// whole precedence chain with an explicit config file path.
const EnvPath = "WHOGITIT_CONFIG"

// CustomPattern is a user-defined secret pattern for the Redaction Engine.
type CustomPattern struct {
	Name        string `toml:"name"`
	Pattern     string `toml:"pattern"`
	Description string `toml:"description"`
}

// Privacy holds the [privacy] section.
type Privacy struct {
	Enabled            bool            `toml:"enabled"`
	UseBuiltinPatterns bool            `toml:"use_builtin_patterns"`
	DisabledPatterns   []string        `toml:"disabled_patterns"`
	AuditLog           bool            `toml:"audit_log"`
	CustomPatterns     []CustomPattern `toml:"custom_patterns"`
}

// Retention holds the [retention] section. MaxAgeDays is a pointer since
// "unset" (keep forever) is a meaningful distinct state from zero.
type Retention struct {
	MaxAgeDays *int     `toml:"max_age_days"`
	AutoPurge  bool     `toml:"auto_purge"`
	RetainRefs []string `toml:"retain_refs"`
	MinCommits int      `toml:"min_commits"`
}

// Analysis holds the [analysis] section.
type Analysis struct {
	MaxPendingAgeHours int     `toml:"max_pending_age_hours"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
}

// Config is the fully resolved whogitit configuration.
type Config struct {
	Privacy   Privacy   `toml:"privacy"`
	Retention Retention `toml:"retention"`
	Analysis  Analysis  `toml:"analysis"`
}

// Defaults returns the built-in configuration used when no file is found
// (hooks) or explicitly requested (commands).
func Defaults() Config {
	return Config{
		Privacy: Privacy{
			Enabled:            true,
			UseBuiltinPatterns: true,
			AuditLog:           true,
		},
		Retention: Retention{
			AutoPurge:  false,
			MinCommits: 0,
		},
		Analysis: Analysis{
			MaxPendingAgeHours:  1,
			SimilarityThreshold: 0.6,
		},
	}
}

// Load resolves the precedence chain (explicit env path > repoRoot-local
// > userGlobal > defaults) and parses whichever file is found first.
// hardFail controls how a malformed file is reported: true returns an
// error (user-facing commands), false logs nothing itself and falls
// back to Defaults() (hook paths must never fail on bad config — the
// caller is expected to warn).
func Load(repoRoot string, hardFail bool) (Config, error) {
	candidates := []string{}
	if p := os.Getenv(EnvPath); p != "" {
		candidates = append(candidates, p)
	}
	if repoRoot != "" {
		candidates = append(candidates, filepath.Join(repoRoot, ".whogitit.toml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "whogitit", "config.toml"))
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			if hardFail {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
			return Defaults(), nil
		}

		cfg := Defaults()
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			if hardFail {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			return Defaults(), nil
		}
		return cfg, nil
	}

	return Defaults(), nil
}
