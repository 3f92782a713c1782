package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
	"github.com/dmitrijs2005/sessionkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "30m" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	DatabasePath       string         `json:"database_path"`
	IdleTimeout        timex.Duration `json:"idle_timeout"`
	WarningWindow      timex.Duration `json:"warning_window"`
	LogLevel           string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Keys absent from the file keep their current values.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	jc := JsonConfig{
		ServerEndpointAddr: cfg.ServerEndpointAddr,
		DatabasePath:       cfg.DatabasePath,
		IdleTimeout:        timex.Duration{Duration: cfg.IdleTimeout},
		WarningWindow:      timex.Duration{Duration: cfg.WarningWindow},
		LogLevel:           cfg.LogLevel,
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	cfg.DatabasePath = jc.DatabasePath
	cfg.IdleTimeout = time.Duration(jc.IdleTimeout.Duration)
	cfg.WarningWindow = time.Duration(jc.WarningWindow.Duration)
	cfg.LogLevel = jc.LogLevel
}
