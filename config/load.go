package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML config file on top of DefaultConfig. Fields absent
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	for i := range cfg.Seeds {
		cfg.Seeds[i].URL = strings.TrimSpace(cfg.Seeds[i].URL)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a time.Duration, e.g. "90s".
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overrides cfg with CRAWLER_* environment variables.
func ApplyEnv(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"CRAWLER_MAX_DEPTH", &cfg.MaxDepth},
		{"CRAWLER_MAX_URLS", &cfg.MaxURLs},
		{"CRAWLER_CONCURRENCY", &cfg.Concurrency},
		{"CRAWLER_MAX_RETRIES", &cfg.MaxRetries},
	}
	for _, e := range ints {
		v, ok, err := EnvInt(e.key)
		if err != nil {
			return err
		}
		if ok {
			*e.dst = v
		}
	}
	if d, ok, err := EnvDuration("CRAWLER_MAX_DURATION"); err != nil {
		return err
	} else if ok {
		cfg.MaxDuration = d
	}
	strs := []struct {
		key string
		dst *string
	}{
		{"CRAWLER_OUTPUT", &cfg.OutputFile},
		{"CRAWLER_REPORT", &cfg.ReportFile},
		{"CRAWLER_METRICS_ADDR", &cfg.MetricsAddr},
		{"DATABASE_URL", &cfg.DatabaseURL},
	}
	for _, e := range strs {
		if v, ok := EnvString(e.key); ok {
			*e.dst = v
		}
	}
	return nil
}
