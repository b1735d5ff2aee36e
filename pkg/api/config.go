package api

import "time"

// Config tunes the admin API server.
type Config struct {
	// Port is the listen port. Default: 9090.
	Port int `mapstructure:"port" yaml:"port"`

	// APIKey authorizes admin requests via the X-API-Key header. Empty
	// disables key auth.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// JWTSecret authorizes admin requests via bearer tokens carrying the
	// admin role. Empty disables token auth.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 9090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
