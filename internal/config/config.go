package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Game        GameConfig        `yaml:"game"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	StaticDir  string `yaml:"static_dir"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// MatchmakingConfig tunes the queue and pairing pass
type MatchmakingConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	QueueTimeout   time.Duration `yaml:"queue_timeout"`
	BaseRange      int           `yaml:"base_range"`
	RangePerSecond int           `yaml:"range_per_second"`
	MaxRange       int           `yaml:"max_range"`
}

// GameConfig tunes session lifecycle
type GameConfig struct {
	ConnectionDeadline time.Duration `yaml:"connection_deadline"`
	DefaultRating      int           `yaml:"default_rating"`
}

// Default returns the configuration with every field at its default value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1",
			HTTPPort:   8080,
			// StaticDir intentionally has no default - empty means don't serve static files
		},
		Database: DatabaseConfig{
			Path: "/var/lib/gambit/gambit.db",
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Matchmaking: MatchmakingConfig{
			TickInterval:   time.Second,
			QueueTimeout:   5 * time.Minute,
			BaseRange:      50,
			RangePerSecond: 10,
			MaxRange:       500,
		},
		Game: GameConfig{
			ConnectionDeadline: 60 * time.Second,
			DefaultRating:      100,
		},
	}
}

// Load reads configuration from a YAML file. The file is decoded over the
// defaults, so absent fields keep their default while explicit values -
// including zero - always win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}
