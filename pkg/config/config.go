// Package config loads runtime configuration from, in priority order,
// environment variables, a .env file, a YAML file, and compiled-in
// defaults.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the spec's environment table.
type Config struct {
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     int           `yaml:"redis_port"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPassword string        `yaml:"redis_password"`

	LayerTimeoutMS map[string]int `yaml:"layer_timeout_ms"`

	LogLevel string `yaml:"log_level"`

	LockCycles        int     `yaml:"lock_cycles"`
	StabilityGrowth   float64 `yaml:"stability_growth"`
	CleanupThreshold  float64 `yaml:"cleanup_threshold"`
	BackgroundInterval uint64 `yaml:"background_interval"`
	PromotionHitCount int     `yaml:"promotion_hit_count"`

	CartridgesDir string `yaml:"cartridges_dir"`
	HTTPAddr      string `yaml:"http_addr"`

	SpotlightTTL time.Duration `yaml:"-"`
}

// Default returns the compiled-in defaults, matching spec.md's stated
// defaults for every named tunable.
func Default() Config {
	return Config{
		RedisHost: "localhost",
		RedisPort: 6379,
		RedisDB:   0,

		LayerTimeoutMS: map[string]int{
			"GRAIN":      50,
			"CARTRIDGE":  200,
			"BITNET":     500,
			"SPECIALIST": 1000,
		},

		LogLevel: "info",

		LockCycles:         50,
		StabilityGrowth:    2.0,
		CleanupThreshold:   1e-3,
		BackgroundInterval: 100,
		PromotionHitCount:  3,

		CartridgesDir: "./cartridges",
		HTTPAddr:      ":8080",

		SpotlightTTL: time.Hour,
	}
}

// Load builds a Config by layering, highest priority first: process
// environment, a `.env` file at envPath (optional, ignored if absent), a
// YAML file at yamlPath (optional, ignored if absent), and Default().
func Load(yamlPath, envPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	envFile := map[string]string{}
	if envPath != "" {
		if f, err := os.Open(envPath); err == nil {
			defer f.Close()
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				parts := strings.SplitN(line, "=", 2)
				if len(parts) == 2 {
					envFile[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
				}
			}
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		if v, ok := envFile[key]; ok {
			return v, true
		}
		return "", false
	}

	if v, ok := lookup("REDIS_HOST"); ok {
		cfg.RedisHost = v
	}
	if v, ok := lookup("REDIS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisPort = n
		}
	}
	if v, ok := lookup("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	if v, ok := lookup("KITBASH_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("LOCK_CYCLES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LockCycles = n
		}
	}
	if v, ok := lookup("STABILITY_GROWTH"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.StabilityGrowth = f
		}
	}
	if v, ok := lookup("CLEANUP_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CleanupThreshold = f
		}
	}
	if v, ok := lookup("BACKGROUND_INTERVAL"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.BackgroundInterval = n
		}
	}
	for _, layer := range []string{"LAYER0", "LAYER1", "LAYER2", "LAYER3", "LAYER4"} {
		if v, ok := lookup(layer + "_TIMEOUT_MS"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.LayerTimeoutMS[layer] = n
			}
		}
	}

	return cfg, nil
}
