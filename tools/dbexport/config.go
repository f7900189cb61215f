package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/spinescan/spinescan/internal/conf"
)

const maxBatchSize = 10000

// Config holds the configuration for the export tool.
type Config struct {
	SQLitePath string
	ConfigPath string

	BatchSize  int
	Clean      bool
	SkipVerify bool
	Verbose    bool
}

// Validate checks the flag values.
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("--sqlite-path is required")
	}
	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > maxBatchSize {
		return fmt.Errorf("batch-size too large (max %d)", maxBatchSize)
	}
	return nil
}

// Load validates the flags and reads the target database settings from the
// SpineScan configuration.
func (c *Config) Load() (*conf.DatabaseSettings, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.ConfigPath != "" {
		viper.SetConfigFile(c.ConfigPath)
	}
	settings, err := conf.Load()
	if err != nil {
		return nil, err
	}
	if err := checkTarget(&settings.Database); err != nil {
		return nil, err
	}
	return &settings.Database, nil
}

func checkTarget(db *conf.DatabaseSettings) error {
	switch db.Driver {
	case conf.DriverMySQL, conf.DriverPostgres:
		return nil
	default:
		return fmt.Errorf("target database.driver must be mysql or postgres, got %q", db.Driver)
	}
}
