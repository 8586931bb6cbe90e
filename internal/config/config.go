package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	GuestTTL    time.Duration `mapstructure:"guest_ttl" yaml:"guest_ttl"`

	// Chat limits.
	MaxMessageLength   int `mapstructure:"max_message_length" yaml:"max_message_length"`
	HistoryLimit       int `mapstructure:"history_limit" yaml:"history_limit"`
	FallbackBufferSize int `mapstructure:"fallback_buffer_size" yaml:"fallback_buffer_size"`

	// Liveness sweep. Connections idle past PongTimeout are closed;
	// connections idle past PingInterval are pinged.
	PingInterval  time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PongTimeout   time.Duration `mapstructure:"pong_timeout" yaml:"pong_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// Optional presence cache. Disabled when RedisAddr is empty.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		DatabasePath:       "peerbeam.db",
		JWTSecret:          "change-me",
		JWTIssuer:          "peerbeam",
		JWTAudience:        "peerbeam",
		JWTTTL:             24 * time.Hour,
		GuestTTL:           time.Hour,
		MaxMessageLength:   2000,
		HistoryLimit:       50,
		FallbackBufferSize: 100,
		PingInterval:       30 * time.Second,
		PongTimeout:        75 * time.Second,
		SweepInterval:      15 * time.Second,
	}
}
