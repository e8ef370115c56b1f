// Package config loads runtime configuration for the chatvault CLI.
//
// Sources, in increasing precedence: built-in defaults, an optional JSON
// file (-c/-config or $CHATVAULT_CONFIG), then command-line flags.
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "data_dir": "/home/alice/.chatvault",
//	  "idle_lock_timeout": "5m",
//	  "online_check_interval": "3s",
//	  "authenticator_origin": "https://localhost",
//	  "log_level": "warn"
//	}
//
// Intervals in JSON are timex.Duration values: "3s" or integer nanoseconds.
package config

import "time"

// Config holds runtime settings for the chatvault CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the backend gRPC endpoint.
//   - DataDir: directory of the local database; empty means ~/.chatvault.
//   - IdleLockTimeout: lock the session after this much inactivity; zero disables.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - AuthenticatorOrigin: origin the software authenticator signs for.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	ServerEndpointAddr  string
	DataDir             string
	IdleLockTimeout     time.Duration
	OnlineCheckInterval time.Duration
	AuthenticatorOrigin string
	LogLevel            string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DataDir = ""
	c.IdleLockTimeout = 5 * time.Minute
	c.OnlineCheckInterval = 3 * time.Second
	c.AuthenticatorOrigin = "https://localhost"
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
