package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration is usable for the given mode.
// Errors are accumulated so a misconfigured deployment reports everything
// at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 16 {
		problems = append(problems, "batch.max_concurrent must be between 1 and 16")
	}
	if c.Insights.WindowDays < 1 {
		problems = append(problems, "insights.window_days must be >= 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0")
		}
	case "analyze", "locations":
		// No extra requirements beyond the store.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
