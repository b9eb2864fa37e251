package config

import (
	"fmt"
	"os"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string
	// StorageRoot is the root of the photo storage tree that backup runs
	// walk (events/active, events/archived, thumbnails/, uploads/).
	StorageRoot string
	// DatabaseDumpPath is where the database dump job leaves its latest
	// snapshot, included in runs when backup_include_database is set.
	DatabaseDumpPath string
	MigrationsDir    string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ServiceName:      getEnv("SERVICE_NAME", "backupd"),
		StorageRoot:      getEnv("STORAGE_ROOT", "/var/lib/photovault/storage"),
		DatabaseDumpPath: getEnv("DATABASE_DUMP_PATH", ""),
		MigrationsDir:    getEnv("MIGRATIONS_DIR", "migrations"),
	}

	return cfg, nil
}

// Validate checks the fields the given service cannot start without.
func (c *Config) Validate(service string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s: DATABASE_URL is required", service)
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("%s: STORAGE_ROOT is required", service)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
