package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// defaultEnvPaths are tried in order when no explicit file is given
var defaultEnvPaths = []string{".env", "../.env", "../../.env"}

// LoadConfig loads the given .env file, falling back to the default search
// paths when configFile is empty. Variables already set in the environment
// are never overridden.
func LoadConfig(configFile string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := godotenv.Load(configFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", configFile, err)
			}
			return nil
		}
	}
	return LoadEnv()
}

// LoadEnv loads the first .env file found in the current or parent directories
func LoadEnv() error {
	for _, envPath := range defaultEnvPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("failed to load %s: %w", envPath, err)
		}
		break
	}
	return nil
}

// GetEnv gets environment variable with default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets integer environment variable with default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvFloat gets float environment variable with default
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvBool gets boolean environment variable with default
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// Database holds the Postgres connection settings for the location store
type Database struct {
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConnections int
}

// DatabaseFromEnv reads DB_* variables
func DatabaseFromEnv() Database {
	return Database{
		Host:           GetEnv("DB_HOST", "localhost"),
		Port:           GetEnv("DB_PORT", "5432"),
		User:           GetEnv("DB_USER", "postgres"),
		Password:       GetEnv("DB_PASSWORD", "postgres"),
		Name:           GetEnv("DB_NAME", "locations"),
		SSLMode:        GetEnv("DB_SSLMODE", "disable"),
		MaxConnections: GetEnvInt("DB_MAX_CONNECTIONS", 10),
	}
}

// DSN renders the settings as a lib/pq connection string
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}
