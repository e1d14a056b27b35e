package main

import (
	"time"

	"github.com/matst80/tcprelay/internal/config"
	"github.com/matst80/tcprelay/internal/obs"
)

// Options are the command line flags. Set flags override the config file and
// environment.
type Options struct {
	ConfigFile  string `short:"c" long:"config" description:"YAML config file"`
	EnvFile     string `long:"env-file" default:".env" description:"dotenv file read before the environment (ignored when missing)"`
	Listen      string `short:"l" long:"listen" description:"listen endpoint of a single mapping, e.g. http://0.0.0.0:8080"`
	Destination string `short:"d" long:"destination" description:"destination endpoint of a single mapping"`
	MappingFile string `short:"m" long:"mapping-file" description:"file with one listen=destination mapping per line"`
	RedisAddr   string `long:"redis" description:"redis address holding shared mappings"`

	Strategy    string         `short:"s" long:"strategy" choice:"store-and-forward" choice:"stream" description:"relay strategy"`
	Exchange    string         `long:"exchange" choice:"one-shot" choice:"reuse" description:"store-and-forward exchange policy"`
	Dispatch    string         `long:"dispatch" choice:"shared" choice:"isolated" description:"run sessions on the accept loop or on pooled workers"`
	Workers     int            `short:"w" long:"workers" description:"worker pool size in isolated mode"`
	BufferSize  int            `long:"buffer-size" description:"store-and-forward buffer capacity in bytes"`
	IdleTimeout *time.Duration `long:"idle-timeout" description:"close sessions idle for this long (0 disables)"`
	Backend     string         `long:"backend" choice:"auto" choice:"epoll" choice:"poll" description:"readiness backend"`
	Trace       bool           `long:"trace-payload" description:"log forwarded payload previews at debug level"`

	MetricsAddr string `long:"metrics" description:"metrics, health and dashboard listen address"`
	LogLevel    string `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
	Debug       bool   `long:"debug" description:"shorthand for --log-level=debug"`
	Version     bool   `short:"v" long:"version" description:"print version and exit"`
}

// apply copies every flag that was set onto cfg.
func (o *Options) apply(cfg *config.Config) {
	setString(&cfg.Listen, o.Listen)
	setString(&cfg.Destination, o.Destination)
	setString(&cfg.MappingFile, o.MappingFile)
	setString(&cfg.Redis.Addr, o.RedisAddr)
	setString(&cfg.Strategy, o.Strategy)
	setString(&cfg.Exchange, o.Exchange)
	setString(&cfg.Dispatch, o.Dispatch)
	setString(&cfg.Backend, o.Backend)
	setString(&cfg.MetricsAddr, o.MetricsAddr)
	setString(&cfg.LogLevel, o.LogLevel)
	if o.Workers > 0 {
		cfg.Workers = o.Workers
	}
	if o.BufferSize > 0 {
		cfg.BufferSize = o.BufferSize
	}
	if o.IdleTimeout != nil {
		cfg.IdleTimeout = *o.IdleTimeout
	}
	if o.Trace {
		cfg.TracePayload = true
	}
}

// configureLogging applies the configured level; --debug wins over it.
func (o *Options) configureLogging(level string) {
	obs.SetLevel(level)
	if o.Debug {
		obs.EnableDebug(true)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
