package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
	"github.com/dmitrijs2005/sessionkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// "15m" style strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	StoreBackend                 string         `json:"store_backend"`
	DatabaseDSN                  string         `json:"database_dsn"`
	RedisAddr                    string         `json:"redis_addr"`
	RedisPassword                string         `json:"redis_password"`
	RedisDB                      int            `json:"redis_db"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	RateLimitEnabled             bool           `json:"rate_limit_enabled"`
	LogFormat                    string         `json:"log_format"`
	LogLevel                     string         `json:"log_level"`
	SeedEmail                    string         `json:"seed_email"`
	SeedPassword                 string         `json:"seed_password"`
}

// parseJson overlays values from the file named by -c/-config. Keys missing
// from the file keep their current value. An unreadable file or invalid JSON
// panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigFile(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{
		EndpointAddrGRPC:             config.EndpointAddrGRPC,
		EndpointAddrHTTP:             config.EndpointAddrHTTP,
		StoreBackend:                 config.StoreBackend,
		DatabaseDSN:                  config.DatabaseDSN,
		RedisAddr:                    config.RedisAddr,
		RedisPassword:                config.RedisPassword,
		RedisDB:                      config.RedisDB,
		SecretKey:                    config.SecretKey,
		AccessTokenValidityDuration:  timex.Duration{Duration: config.AccessTokenValidityDuration},
		RefreshTokenValidityDuration: timex.Duration{Duration: config.RefreshTokenValidityDuration},
		RateLimitEnabled:             config.RateLimitEnabled,
		LogFormat:                    config.LogFormat,
		LogLevel:                     config.LogLevel,
		SeedEmail:                    config.SeedEmail,
		SeedPassword:                 config.SeedPassword,
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrGRPC = c.EndpointAddrGRPC
	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.StoreBackend = c.StoreBackend
	config.DatabaseDSN = c.DatabaseDSN
	config.RedisAddr = c.RedisAddr
	config.RedisPassword = c.RedisPassword
	config.RedisDB = c.RedisDB
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.RateLimitEnabled = c.RateLimitEnabled
	config.LogFormat = c.LogFormat
	config.LogLevel = c.LogLevel
	config.SeedEmail = c.SeedEmail
	config.SeedPassword = c.SeedPassword
}
