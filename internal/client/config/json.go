package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chatvault/internal/flagx"
	"github.com/dmitrijs2005/chatvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Fields left
// out of the file keep the values already in Config.
type JsonConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr"`
	DataDir             *string         `json:"data_dir"`
	IdleLockTimeout     *timex.Duration `json:"idle_lock_timeout"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	AuthenticatorOrigin *string         `json:"authenticator_origin"`
	LogLevel            *string         `json:"log_level"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// parseJson overlays Config with values loaded from a JSON file named by
// -c/-config or $CHATVAULT_CONFIG. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DataDir, jc.DataDir)
	if jc.IdleLockTimeout != nil {
		cfg.IdleLockTimeout = jc.IdleLockTimeout.Duration
	}
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	setString(&cfg.AuthenticatorOrigin, jc.AuthenticatorOrigin)
	setString(&cfg.LogLevel, jc.LogLevel)
}
