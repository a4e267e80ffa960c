package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	Addr string

	RedisURL string
	RoomTTL  time.Duration

	HeartbeatInterval       time.Duration
	DyingHeartbeatThreshold int
	WriteTimeout            time.Duration

	MaxRooms         int
	UndoHistoryLimit int

	AllowedOrigins []string
}

// fileConfig is the optional YAML file named by KEIZAR_CONFIG. Durations use Go syntax ("5s").
type fileConfig struct {
	Addr                    string   `yaml:"addr"`
	RedisURL                string   `yaml:"redis_url"`
	RoomTTL                 string   `yaml:"room_ttl"`
	HeartbeatInterval       string   `yaml:"heartbeat_interval"`
	DyingHeartbeatThreshold int      `yaml:"dying_heartbeat_threshold"`
	WriteTimeout            string   `yaml:"write_timeout"`
	MaxRooms                int      `yaml:"max_rooms"`
	UndoHistoryLimit        int      `yaml:"undo_history_limit"`
	AllowedOrigins          []string `yaml:"allowed_origins"`
}

func defaults() *AppConfig {
	return &AppConfig{
		Addr:                    ":4392",
		RoomTTL:                 24 * time.Hour,
		HeartbeatInterval:       5 * time.Second,
		DyingHeartbeatThreshold: 60,
		WriteTimeout:            5 * time.Second,
		MaxRooms:                1000,
		UndoHistoryLimit:        256,
	}
}

// Load assembles the configuration: defaults, then the KEIZAR_CONFIG file when set, then the
// environment. Values that do not parse keep what the earlier layer had.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("KEIZAR_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.applyYAML(raw); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *AppConfig) applyYAML(raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if v := strings.TrimSpace(fc.Addr); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(fc.RedisURL); v != "" {
		cfg.RedisURL = v
	}
	if d, ok := parseDuration(fc.RoomTTL); ok {
		cfg.RoomTTL = d
	}
	if d, ok := parseDuration(fc.HeartbeatInterval); ok {
		cfg.HeartbeatInterval = d
	}
	if d, ok := parseDuration(fc.WriteTimeout); ok {
		cfg.WriteTimeout = d
	}
	if fc.DyingHeartbeatThreshold > 0 {
		cfg.DyingHeartbeatThreshold = fc.DyingHeartbeatThreshold
	}
	if fc.MaxRooms > 0 {
		cfg.MaxRooms = fc.MaxRooms
	}
	if fc.UndoHistoryLimit > 0 {
		cfg.UndoHistoryLimit = fc.UndoHistoryLimit
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = splitList(strings.Join(fc.AllowedOrigins, ","))
	}
	return nil
}

func (cfg *AppConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ADDR")); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if d, ok := parseDuration(os.Getenv("ROOM_TTL")); ok {
		cfg.RoomTTL = d
	}
	if d, ok := parseDuration(os.Getenv("HEARTBEAT_INTERVAL")); ok {
		cfg.HeartbeatInterval = d
	}
	if d, ok := parseDuration(os.Getenv("WRITE_TIMEOUT")); ok {
		cfg.WriteTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("DYING_HEARTBEAT_THRESHOLD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DyingHeartbeatThreshold = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRooms = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("UNDO_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.UndoHistoryLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
}

func (cfg *AppConfig) Validate() error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return errors.New("ADDR is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.DyingHeartbeatThreshold <= 0 {
		return errors.New("DYING_HEARTBEAT_THRESHOLD must be positive")
	}
	if cfg.MaxRooms <= 0 {
		return errors.New("MAX_ROOMS must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be positive")
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
