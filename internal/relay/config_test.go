package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"store and reuse", func(c *Config) { c.Strategy = StoreAndForward; c.Exchange = ExchangeReuse }, true},
		{"isolated", func(c *Config) { c.Dispatch = DispatchIsolated; c.Workers = 8 }, true},
		{"isolated without workers", func(c *Config) { c.Dispatch = DispatchIsolated; c.Workers = 0 }, false},
		{"shared ignores workers", func(c *Config) { c.Workers = 0 }, true},
		{"unknown strategy", func(c *Config) { c.Strategy = "pipe" }, false},
		{"unknown exchange", func(c *Config) { c.Exchange = "twice" }, false},
		{"unknown dispatch", func(c *Config) { c.Dispatch = "threads" }, false},
		{"tiny buffer", func(c *Config) { c.BufferSize = 1 }, false},
		{"negative idle", func(c *Config) { c.IdleTimeout = -time.Second }, false},
		{"idle disabled", func(c *Config) { c.IdleTimeout = 0 }, true},
		{"no connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, false},
		{"no poll timeout", func(c *Config) { c.PollTimeout = 0 }, false},
		{"bad backend", func(c *Config) { c.Backend = "kqueue" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
