package server

import "time"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// RateLimit is the sustained requests per second allowed per client; zero disables
	// limiting. Clients are keyed by X-User-ID, else by remote host.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		RateLimit:       50,
		RateBurst:       100,
		MaxBodyBytes:    8 << 20,
		ReadTimeout:     15 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}
