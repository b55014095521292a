// Package config loads server and sweeper configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full budgetd configuration.
type Config struct {
	Listen      string   `yaml:"listen"`
	DBPath      string   `yaml:"db_path"`
	CORSOrigins []string `yaml:"cors_origins"`

	Reservation Reservation `yaml:"reservation"`
	Sweeper     Sweeper     `yaml:"sweeper"`
}

// Reservation configures hold creation.
type Reservation struct {
	// TTLDays is how long a reservation stays active before the sweeper
	// may release it. Default 30.
	TTLDays int `yaml:"ttl_days"`
}

// Sweeper configures the background expiry sweep.
type Sweeper struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	BatchSize int      `yaml:"batch_size"`
}

// Duration accepts "5m" style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:      ":8080",
		DBPath:      "budget.db",
		CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		Reservation: Reservation{TTLDays: 30},
		Sweeper: Sweeper{
			Enabled:   true,
			Interval:  Duration(5 * time.Minute),
			BatchSize: 100,
		},
	}
}

// Load reads a YAML config file, filling unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Reservation.TTLDays <= 0 {
		cfg.Reservation.TTLDays = 30
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = Duration(5 * time.Minute)
	}
	if cfg.Sweeper.BatchSize <= 0 {
		cfg.Sweeper.BatchSize = 100
	}
	return cfg, nil
}

// TTL returns the reservation TTL as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.Reservation.TTLDays) * 24 * time.Hour
}
