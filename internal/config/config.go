// Package config loads application configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env   string `validate:"required,oneof=dev prod"`
	Store struct {
		// Location is an opaque identifier the engine resolves to a
		// persistent namespace: a file path, or ":memory:".
		Location string `validate:"required"`
		Debug    bool
	}
	DB struct {
		MaxAttempts    int           `validate:"min=1"`
		RetryBaseDelay time.Duration `validate:"min=1ms"`
		RetryMaxDelay  time.Duration `validate:"min=1ms"`
	}
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Maintenance struct {
		CheckpointSpec string
		OptimizeSpec   string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.Store.Location = getenv("STORE_LOCATION", "data/embeddb.db")
	c.Store.Debug = getbool("STORE_DEBUG", false)
	c.DB.MaxAttempts = getint("DB_MAX_ATTEMPTS", 3)
	c.DB.RetryBaseDelay = getduration("DB_RETRY_BASE_DELAY", 500*time.Millisecond)
	c.DB.RetryMaxDelay = getduration("DB_RETRY_MAX_DELAY", 5*time.Second)
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "")
	c.Maintenance.CheckpointSpec = getenv("MAINT_CHECKPOINT_SPEC", "0 */30 * * * *")
	c.Maintenance.OptimizeSpec = getenv("MAINT_OPTIMIZE_SPEC", "0 0 3 * * *")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.DB.RetryBaseDelay > c.DB.RetryMaxDelay {
		return Config{}, fmt.Errorf("DB_RETRY_BASE_DELAY cannot exceed DB_RETRY_MAX_DELAY")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
