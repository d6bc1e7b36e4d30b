package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides. Each wins over the corresponding file field.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
)

const defaultConfigPath = "./config.yaml"

// defaultJWTExpiry applies when the file and environment leave dashboard
// token expiry unset or non-positive.
const defaultJWTExpiry = 24 * time.Hour

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// JWTConfig holds the dashboard token secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// fileDoc is the YAML document shape of the config file. The flat
// `database-dsn` key is accepted alongside the nested form.
type fileDoc struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT JWTConfig `yaml:"jwt"`
}

func readFileDoc(configPath string) (fileDoc, error) {
	var doc fileDoc
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return doc, fmt.Errorf("read config file: %w", errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, &doc); errUnmarshal != nil {
		return doc, fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	return doc, nil
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = defaultConfigPath
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// LoadDatabaseDSN resolves the database DSN: the environment wins, then
// the config file's flat key, then its nested key.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	doc, errDoc := readFileDoc(configPath)
	if errDoc != nil {
		return "", errDoc
	}
	for _, dsn := range []string{doc.DatabaseDSN, doc.Database.DSN} {
		if trimmed := strings.TrimSpace(dsn); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", ErrMissingDatabaseDSN
}

// LoadJWTConfig resolves dashboard token settings. An unreadable file
// is not an error here; the server can still run with env-provided
// values, and token issuance rejects an empty secret on its own.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	result := JWTConfig{Expiry: defaultJWTExpiry}
	if doc, errDoc := readFileDoc(configPath); errDoc == nil {
		result = doc.JWT
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if raw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); raw != "" {
		if expiry, errParse := time.ParseDuration(raw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}
	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}
