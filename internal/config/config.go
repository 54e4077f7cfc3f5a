// Package config loads the process configuration from a YAML file, an
// optional .env file and HOVERSAVE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit path is given.
const DefaultPath = "hoversave.yml"

type Config struct {
	Version string `yaml:"version"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
		MaxMB  int      `yaml:"max_mb"`
	} `yaml:"log"`

	Sqlite struct {
		DSN string `yaml:"dsn"`
	} `yaml:"sqlite"`

	Downloads struct {
		Dir string `yaml:"dir"`
	} `yaml:"downloads"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Browser struct {
		Headless bool   `yaml:"headless"`
		ExecPath string `yaml:"exec_path"`
		// TimeoutMS bounds navigation and page evaluations.
		TimeoutMS int `yaml:"timeout_ms"`
	} `yaml:"browser"`

	Cache struct {
		MemoryMB int    `yaml:"memory_mb"`
		DiskDir  string `yaml:"disk_dir"`
		DiskMB   int    `yaml:"disk_mb"`
	} `yaml:"cache"`

	Codec struct {
		TimeoutMS    int `yaml:"timeout_ms"`
		MaxPixels    int `yaml:"max_pixels"`
		MaxDimension int `yaml:"max_dimension"`
	} `yaml:"codec"`

	Fetch struct {
		UserAgent string `yaml:"user_agent"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"fetch"`
}

// New returns the built-in defaults.
func New() *Config {
	c := &Config{Version: "1.0.0"}
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = filepath.Join("logs", "hoversave.log")
	c.Log.MaxMB = 20
	c.Sqlite.DSN = "hoversave.sqlite3"
	c.Downloads.Dir = "downloads"
	c.Server.Addr = "127.0.0.1:8765"
	c.Browser.Headless = false
	c.Browser.TimeoutMS = 30000
	c.Cache.MemoryMB = 64
	c.Cache.DiskDir = filepath.Join("cache", "media")
	c.Cache.DiskMB = 256
	c.Codec.TimeoutMS = 30000
	c.Codec.MaxPixels = 4_000_000
	c.Codec.MaxDimension = 3000
	c.Fetch.TimeoutMS = 20000
	return c
}

// Load layers path (if it exists), .env and the environment over New().
func Load(path string) (*Config, error) {
	c := New()
	if path == "" {
		path = DefaultPath
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	c.applyEnv(os.Getenv)
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				*dst = n
			}
		}
	}
	str("HOVERSAVE_LOG_LEVEL", &c.Log.Level)
	str("HOVERSAVE_LOG_FILE", &c.Log.File)
	if v := strings.TrimSpace(getenv("HOVERSAVE_LOG_WRITER")); v != "" {
		c.Log.Writer = strings.Split(v, ",")
	}
	str("HOVERSAVE_DB", &c.Sqlite.DSN)
	str("HOVERSAVE_DOWNLOAD_DIR", &c.Downloads.Dir)
	str("HOVERSAVE_ADDR", &c.Server.Addr)
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		c.Server.Addr = ":" + v
	}
	str("HOVERSAVE_CHROME", &c.Browser.ExecPath)
	if v := strings.TrimSpace(getenv("HOVERSAVE_HEADLESS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	num("HOVERSAVE_CACHE_MB", &c.Cache.MemoryMB)
	str("HOVERSAVE_CACHE_DIR", &c.Cache.DiskDir)
	num("HOVERSAVE_CACHE_DISK_MB", &c.Cache.DiskMB)
	num("HOVERSAVE_CODEC_TIMEOUT_MS", &c.Codec.TimeoutMS)
	str("HOVERSAVE_USER_AGENT", &c.Fetch.UserAgent)
}
